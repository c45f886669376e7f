// Package maintenance schedules physical removal of long-expired token
// records on backends that do not expire keys themselves.
package maintenance

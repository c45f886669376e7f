// Package notify delivers account lifecycle messages: email verification,
// password reset, welcome and password-changed notices.
//
// The engine treats delivery as best effort. Implementations may fail; the
// caller logs and moves on.
package notify

// Package gormstore implements the store repositories on SQL databases via
// GORM (sqlite and postgres).
//
// Conditional transitions are single UPDATE statements guarded by
// "revoked_at IS NULL" or "used_at IS NULL"; RowsAffected decides the
// winner. Records are never deleted by the engine; [Store.PurgeExpired]
// removes long-expired tokens for scheduled maintenance.
package gormstore

// Package authcore is a credential and session-token lifecycle engine:
// registration, login with lockout, HS256 access tokens, rotating opaque
// refresh tokens with reuse detection, and single-use email verification
// and password reset tokens.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (TokenPair, PublicProfile, MetricsSnapshot, etc.). Persistence is supplied as
// [Stores] (see store/redisstore and store/gormstore); email delivery as a [Notifier].
// Every state change that must not race (refresh rotation, token consumption, failed-login
// counting) is a single conditional update in the store, so the engine holds no locks.
//
// # What this package must NOT do
//
//   - Log or audit plaintext passwords, refresh tokens, or ephemeral tokens.
//   - Reveal through Login, ResendVerification or ForgotPassword whether an email exists.
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Performance contract
//
// ValidateAccessToken is the hot path and performs no store round-trips. Login and
// password operations are dominated by one password hash; Refresh costs one
// conditional update, one insert and one user lookup.
package authcore

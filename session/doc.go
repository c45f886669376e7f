// Package session manages rotating opaque refresh tokens.
//
// Plaintext tokens are returned to the caller once and never persisted;
// records are keyed by the token's SHA-256 hash. Rotation links each
// consumed token to its successor so that reuse of a rotated token can be
// traced down the chain and revoked.
//
// # Architecture boundaries
//
// This package owns token state transitions. It does NOT interpret access
// tokens or decide account eligibility; those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext tokens.
package session

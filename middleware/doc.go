// Package middleware adapts authcore to net/http.
//
//   - [RequireAccessToken] verifies the bearer access token offline and
//     injects its claims into the request context.
//   - [RequireRole] gates a handler on the role claim.
//   - [ClientInfo] records the client IP and User-Agent for audit and
//     session metadata.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Touch persistence. Access tokens are checked without store lookups.
package middleware

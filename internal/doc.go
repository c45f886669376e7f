// Package internal contains helpers private to authcore: opaque token
// generation and hashing.
//
// # Sub-packages
//
//   - app: viper settings loading and zap logger construction for commands
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - maintenance: cron-scheduled purge of long-expired token records
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal

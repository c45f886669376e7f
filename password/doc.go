// Package password implements password hashing, verification and strength
// checks.
//
// # Hashers
//
// [Bcrypt] is the default [Hasher] (cost 12). Inputs longer than bcrypt's
// 72 byte window are pre-hashed with SHA-256 so they are never truncated.
// [Argon2] is the alternative, encoding PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Both expose NeedsUpgrade so callers can re-hash after a successful login
// when parameters were raised.
//
// Verify never errors. Malformed hashes and empty inputs simply fail.
//
// # Strength
//
// [Policy.Validate] returns every violated rule rather than the first, so
// registration and reset forms can show the full list.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password

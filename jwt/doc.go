// Package jwt issues and validates short-lived HS256 access tokens.
//
// Tokens carry a closed claim set (sub, email, name, role, email_verified,
// jti, iat, exp, iss, aud). Validation is stateless: there is no server-side
// revocation list, so access tokens live until exp.
package jwt

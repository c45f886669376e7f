// Package ephemeral issues and consumes single-use email verification and
// password reset tokens.
//
// At most one token per user and kind is valid at a time: issuing a new one
// invalidates its predecessors. Consumption is a single conditional update,
// so a token is used at most once even under concurrent submission.
package ephemeral

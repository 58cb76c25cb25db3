// Package auth provides credential verification and JWT token handling
// for the HTTP API.
//
// The bridge authenticates a single provisioned user (configured as a
// username plus Argon2id password hash) rather than carrying a user
// database. Access tokens are short-lived HS256 JWTs validated by
// signature alone.
package auth

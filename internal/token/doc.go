// Package token encodes and verifies the mesh's session credentials.
//
// # Credential Kinds
//
// Two JWT kinds share one HS256 secret and issuer tag:
//
//   - Access tokens: short-lived, carry the principal's ID and role, and
//     are verified locally by every service.
//   - Renewal tokens: long-lived, carry only the principal's ID, and are
//     only ever exchanged at the issuer.
//
// The kinds are distinguished structurally: an access token decoded as a
// renewal token (or vice versa) fails verification.
//
// # Error Discipline
//
// Decode failures collapse into two sentinels. ErrTokenExpired is returned
// only for a token that is valid in every other respect, which makes it
// the single signal the renewal path keys on. Everything else, including a
// forged token that also happens to be expired, is ErrTokenInvalid.
//
// # Clock Handling
//
// Verification applies a configurable leeway to absorb clock skew between
// services. The codec's time source is injectable for tests.
package token

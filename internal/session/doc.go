// Package session implements the issuer side of the credential scheme:
// registration, login, renewal, and revocation.
//
// # Renewal Protocol
//
// Each principal stores at most one renewal reference, the SHA-256 of the
// currently valid renewal token. Renewal validates the presented token,
// then atomically swaps the stored reference for the new token's hash with
// a compare-and-set. Concurrent renewals of the same token produce exactly
// one winner; the losers observe ErrRenewalReused.
//
// A presented token whose hash no longer matches the stored reference was
// rotated out, superseded by a newer login, or revoked. All three cases
// are reported as ErrRenewalReused and logged as security events.
//
// # Single Active Session
//
// Login overwrites the renewal reference unconditionally, so a login from
// a second device invalidates the first device's renewal token. Logout and
// password changes clear the reference, killing every outstanding renewal
// token at once. Access tokens are short-lived and self-expiring; no
// blacklist is kept.
//
// # Store Failures
//
// Principal store errors surface as ErrStoreUnavailable so transports can
// answer 503 instead of 401. The renewal read is retried once with
// backoff; the rotation write never is, because a retried write after a
// landed rotation would misreport a replay.
package session

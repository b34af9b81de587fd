// ABOUTME: Error taxonomy for the session subsystem
// ABOUTME: Sentinels are returned across the service boundary, never thrown as faults

package session

import "errors"

// Session errors. These are the complete set of failure kinds the
// subsystem surfaces; transports map them onto response codes.
var (
	// ErrInvalidCredentials is returned for login failures. Unknown email
	// and wrong password collapse into this one error so the response
	// never reveals which part failed.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrMalformedEmail is returned when a registration supplies an email
	// that cannot be an address.
	ErrMalformedEmail = errors.New("malformed email")

	// ErrEmailTaken is returned when registering an email that is already
	// present (case-insensitive).
	ErrEmailTaken = errors.New("email already registered")

	// ErrPasswordTooShort is returned when a registration or password
	// change supplies a password below the minimum length.
	ErrPasswordTooShort = errors.New("password too short")

	// ErrInvalidToken is returned for malformed, forged, mis-issued, or
	// (on the renewal path) expired tokens. An invalid token is never
	// worth renewing.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionExpired is returned when an access token has expired and
	// renewal also failed or was absent. The caller must re-authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrRenewalReused is returned when a well-formed renewal token no
	// longer matches the principal's current renewal reference: it was
	// rotated out, superseded by a newer login, or revoked. Treated as a
	// security event, not a retryable failure.
	ErrRenewalReused = errors.New("renewal token no longer current")

	// ErrStoreUnavailable is returned when the principal store times out
	// or errors. Retryable by the caller.
	ErrStoreUnavailable = errors.New("principal store unavailable")
)

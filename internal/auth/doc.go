// Package auth provides request authentication for bookmesh services.
//
// # Verification Model
//
// Every service verifies access tokens locally using the shared secret and
// issuer tag from its configuration. No network call happens on the hot
// path: a request with a valid access token is authenticated entirely
// in-process.
//
// # Inline Renewal
//
// When an access token has expired and the request carries a renewal token
// (header, cookie, or gRPC metadata), the verifier exchanges it through a
// Renewer before failing the request:
//
//   - The issuer service uses its session.Service directly.
//   - Every other service uses RemoteRenewer, which calls the issuer's
//     renewal endpoint. This is the one cross-service call in the scheme.
//
// A renewed request proceeds with a fresh identity, and the rotated
// credential pair is surfaced to the client via response headers, a
// re-issued cookie, or gRPC header metadata.
//
// Invalid tokens are never renewed. Only a token that is valid in every
// respect except expiry qualifies for the renewal path.
//
// # Identity Propagation
//
// Verified requests carry an Identity (principal ID and role) in the
// request context. Handlers read it with FromContext or MustFromContext;
// RequireAdmin gates admin-only routes.
//
// # Transports
//
// HTTP middleware and gRPC unary/stream interceptors share the same
// verification and renewal logic, so a service can expose both surfaces
// with identical semantics.
package auth

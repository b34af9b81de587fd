// ABOUTME: Authenticated identity propagation through request contexts
// ABOUTME: Provides WithIdentity/FromContext for handlers across all services

package auth

import (
	"context"
)

// Identity holds the verified claims attached to a request. It is
// populated by the verifier middleware or interceptor and read by
// handlers; it is never persisted.
type Identity struct {
	PrincipalID string
	Role        string
}

// IsAdmin returns true if the principal carries the admin role.
func (id *Identity) IsAdmin() bool {
	return id.Role == "admin"
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if
// the request was not authenticated.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if
// not present. Use only behind the verifier.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}

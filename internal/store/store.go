// ABOUTME: Principal store interface and data types for the session subsystem
// ABOUTME: Defines the Principal record and the compare-and-swap renewal contract

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrPrincipalNotFound is returned when no principal matches the lookup.
var ErrPrincipalNotFound = errors.New("principal not found")

// ErrDuplicateEmail is returned when creating a principal whose email is
// already registered (case-insensitive).
var ErrDuplicateEmail = errors.New("email already registered")

// Role constants for principals.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Principal is the durable account record. RenewalRef holds the identity
// of the single currently-valid renewal token, or nil when the principal
// has no live session (never logged in, logged out, or revoked).
type Principal struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	RenewalRef   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PrincipalStore is the storage contract consumed by the issuer and the
// renewal protocol. Implementations must make CompareAndSetRenewalRef
// linearizable per principal; that single guarantee is what keeps rotation
// safe under concurrent renewals across service instances.
type PrincipalStore interface {
	// CreatePrincipal inserts a new principal. Returns ErrDuplicateEmail
	// if the case-folded email is already present.
	CreatePrincipal(ctx context.Context, p *Principal) error

	// GetPrincipal retrieves a principal by ID.
	GetPrincipal(ctx context.Context, id string) (*Principal, error)

	// GetPrincipalByEmail retrieves a principal by case-folded email.
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)

	// SetRenewalRef unconditionally overwrites the renewal reference.
	// Used at login: a new login replaces any prior session.
	SetRenewalRef(ctx context.Context, id string, ref string) error

	// CompareAndSetRenewalRef replaces the renewal reference only if the
	// stored value still equals expectedOld. Returns false without error
	// when the stored value has moved on (the token was already rotated
	// out or revoked).
	CompareAndSetRenewalRef(ctx context.Context, id string, expectedOld string, newRef string) (bool, error)

	// ClearRenewalRef drops the renewal reference, invalidating every
	// outstanding renewal token for the principal.
	ClearRenewalRef(ctx context.Context, id string) error

	// UpdatePasswordHash replaces the stored credential hash.
	UpdatePasswordHash(ctx context.Context, id string, hash string) error

	Close() error
}

// FoldEmail canonicalizes an email for storage and lookup.
func FoldEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ABOUTME: Credential hashing for stored principal passwords
// ABOUTME: bcrypt-backed with a dummy-compare helper for constant-shape login failures

package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is the one-way hashing contract consumed by the issuer.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// MinLength is the minimum accepted password length at registration
// and password change.
const MinLength = 8

// BcryptHasher implements Hasher using bcrypt at the default cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher with bcrypt's default cost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.DefaultCost}
}

// Hash derives a salted one-way hash of the plaintext.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether plaintext matches the stored hash.
func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// dummyHash is a valid bcrypt hash of an unguessable string, used to keep
// the unknown-email login path the same shape and timing as the
// wrong-password path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// DummyCompare burns one bcrypt comparison. Call it on login paths where
// no principal was found so response timing does not reveal whether the
// email exists.
func DummyCompare(plaintext string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(plaintext))
}

var _ Hasher = (*BcryptHasher)(nil)

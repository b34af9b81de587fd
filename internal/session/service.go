// ABOUTME: Issuer, renewal protocol, and revocation for session credentials
// ABOUTME: Owns the single mutation path for each principal's renewal reference

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/bookmesh/bookmesh/internal/password"
	"github.com/bookmesh/bookmesh/internal/store"
	"github.com/bookmesh/bookmesh/internal/token"
)

// TokenPair is the credential pair returned by login and renewal.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RenewalToken string `json:"renewal_token"`
}

// PrincipalSummary is the public view of a principal. It never carries
// the credential hash.
type PrincipalSummary struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Config holds issuance policy for the session service.
type Config struct {
	AccessTTL    time.Duration // short-lived access credential, default 1h
	RenewalTTL   time.Duration // long-lived renewal credential, default 7d
	StoreTimeout time.Duration // per-call principal store deadline, default 3s
}

// Defaults for unset Config fields.
const (
	DefaultAccessTTL    = time.Hour
	DefaultRenewalTTL   = 7 * 24 * time.Hour
	DefaultStoreTimeout = 3 * time.Second
)

// Service implements the issuer, the renewal protocol, and revocation.
// Verification of access tokens happens locally in consuming services via
// the token codec; only the operations here touch the principal store.
type Service struct {
	store        store.PrincipalStore
	codec        *token.Codec
	hasher       password.Hasher
	accessTTL    time.Duration
	renewalTTL   time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger

	now func() time.Time
}

// NewService creates the session service.
func NewService(st store.PrincipalStore, codec *token.Codec, hasher password.Hasher, cfg Config, logger *slog.Logger) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RenewalTTL <= 0 {
		cfg.RenewalTTL = DefaultRenewalTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		codec:        codec,
		hasher:       hasher,
		accessTTL:    cfg.AccessTTL,
		renewalTTL:   cfg.RenewalTTL,
		storeTimeout: cfg.StoreTimeout,
		logger:       logger.With("component", "session"),
		now:          time.Now,
	}
}

// WithClock overrides the service's time source. Intended for simulations.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new principal with the user role. Registration does
// not imply login: no renewal credential is minted.
func (s *Service) Register(ctx context.Context, email, plaintext, displayName string) (*PrincipalSummary, error) {
	email = store.FoldEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrMalformedEmail
	}
	if len(plaintext) < password.MinLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	p := &store.Principal{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         store.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.CreatePrincipal(sctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, s.storeErr("creating principal", err)
	}

	s.logger.Info("registered principal", "id", p.ID)
	return summarize(p), nil
}

// Principal returns the public view of a principal by ID.
func (s *Service) Principal(ctx context.Context, principalID string) (*PrincipalSummary, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	p, err := s.store.GetPrincipal(sctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, s.storeErr("looking up principal", err)
	}
	return summarize(p), nil
}

// Login authenticates a principal and mints a fresh credential pair. The
// new renewal credential's identity overwrites any prior value, so a login
// from a second device immediately invalidates the first device's renewal
// token (single active session per principal).
func (s *Service) Login(ctx context.Context, email, plaintext string) (*TokenPair, *PrincipalSummary, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	p, err := s.store.GetPrincipalByEmail(sctx, email)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			// Burn a bcrypt comparison so the unknown-email path has the
			// same shape and timing as a wrong password.
			password.DummyCompare(plaintext)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, s.storeErr("looking up principal", err)
	}

	if !s.hasher.Verify(plaintext, p.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, ref, err := s.mintPair(p)
	if err != nil {
		return nil, nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.SetRenewalRef(wctx, p.ID, ref); err != nil {
		return nil, nil, s.storeErr("persisting renewal ref", err)
	}

	s.logger.Info("login", "id", p.ID)
	return pair, summarize(p), nil
}

// Renew validates a renewal token, atomically rotates it, and mints a
// fresh access token. Exactly one of any set of concurrent calls
// presenting the same still-valid token can win the rotation; the rest
// observe ErrRenewalReused.
func (s *Service) Renew(ctx context.Context, renewalToken string) (*TokenPair, error) {
	claims, err := s.codec.DecodeRenewal(renewalToken)
	if err != nil {
		// Fail closed: expiry and tampering alike end the session here.
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	presentedRef := token.RenewalID(renewalToken)

	p, err := s.loadPrincipalWithRetry(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	if p.RenewalRef == nil || *p.RenewalRef != presentedRef {
		// Rotated out, superseded by a newer login, or revoked.
		s.logger.Warn("renewal token replay detected", "id", p.ID)
		return nil, ErrRenewalReused
	}

	pair, newRef, err := s.mintPair(p)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	won, err := s.store.CompareAndSetRenewalRef(wctx, p.ID, presentedRef, newRef)
	if err != nil {
		return nil, s.storeErr("rotating renewal ref", err)
	}
	if !won {
		// A concurrent renewal rotated first; this call must not yield a
		// second valid pair from the same presented token.
		s.logger.Warn("renewal rotation lost race", "id", p.ID)
		return nil, ErrRenewalReused
	}

	s.logger.Debug("renewed session", "id", p.ID)
	return pair, nil
}

// Logout clears the principal's renewal reference, invalidating every
// outstanding renewal token. Access tokens are short-lived and
// self-expiring, so no blacklist is kept. Idempotent.
func (s *Service) Logout(ctx context.Context, principalID string) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.ClearRenewalRef(sctx, principalID); err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			return nil
		}
		return s.storeErr("clearing renewal ref", err)
	}
	s.logger.Info("logout", "id", principalID)
	return nil
}

// InvalidateOnCredentialChange revokes all outstanding renewal tokens for
// the principal after a credential change.
func (s *Service) InvalidateOnCredentialChange(ctx context.Context, principalID string) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.ClearRenewalRef(sctx, principalID); err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			return nil
		}
		return s.storeErr("clearing renewal ref", err)
	}
	s.logger.Info("revoked sessions on credential change", "id", principalID)
	return nil
}

// ChangePassword verifies the old password, stores a new hash, and revokes
// all outstanding renewal tokens for the principal.
func (s *Service) ChangePassword(ctx context.Context, principalID, oldPlaintext, newPlaintext string) error {
	if len(newPlaintext) < password.MinLength {
		return ErrPasswordTooShort
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	p, err := s.store.GetPrincipal(sctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			return ErrInvalidCredentials
		}
		return s.storeErr("looking up principal", err)
	}

	if !s.hasher.Verify(oldPlaintext, p.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPlaintext)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.UpdatePasswordHash(wctx, principalID, hash); err != nil {
		return s.storeErr("updating password hash", err)
	}

	return s.InvalidateOnCredentialChange(ctx, principalID)
}

// mintPair creates a fresh access/renewal credential pair for the
// principal and returns the renewal token's stored identity.
func (s *Service) mintPair(p *store.Principal) (*TokenPair, string, error) {
	now := s.now().UTC()

	access, err := s.codec.EncodeAccess(token.AccessClaims{
		Subject:   p.ID,
		Role:      p.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	})
	if err != nil {
		return nil, "", fmt.Errorf("minting access token: %w", err)
	}

	renewal, err := s.codec.EncodeRenewal(token.RenewalClaims{
		Subject:   p.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.renewalTTL),
	})
	if err != nil {
		return nil, "", fmt.Errorf("minting renewal token: %w", err)
	}

	return &TokenPair{AccessToken: access, RenewalToken: renewal}, token.RenewalID(renewal), nil
}

// loadPrincipalWithRetry reads the principal for renewal, retrying once
// with backoff when the store is unavailable. Reads are idempotent; the
// rotation write itself is never retried.
func (s *Service) loadPrincipalWithRetry(ctx context.Context, id string) (*store.Principal, error) {
	var p *store.Principal
	backoff := retry.WithMaxRetries(1, retry.NewExponential(100*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()

		loaded, err := s.store.GetPrincipal(sctx, id)
		if err != nil {
			if errors.Is(err, store.ErrPrincipalNotFound) {
				// A renewal token for an absent principal is invalid, not
				// a transient condition.
				return fmt.Errorf("%w: unknown subject", ErrInvalidToken)
			}
			return retry.RetryableError(err)
		}
		p = loaded
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, s.storeErr("looking up principal", err)
	}
	return p, nil
}

// storeErr classifies a principal store failure. Timeouts and transport
// errors become ErrStoreUnavailable so callers can distinguish retryable
// infrastructure failures from terminal auth failures.
func (s *Service) storeErr(op string, err error) error {
	s.logger.Error("store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func summarize(p *store.Principal) *PrincipalSummary {
	return &PrincipalSummary{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        p.Role,
	}
}

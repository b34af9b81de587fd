// ABOUTME: Tests for the HTTP verifier middleware
// ABOUTME: Covers local verification, inline renewal, rejection, and role checks

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookmesh/bookmesh/internal/password"
	"github.com/bookmesh/bookmesh/internal/session"
	"github.com/bookmesh/bookmesh/internal/store"
	"github.com/bookmesh/bookmesh/internal/token"
)

type movableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type middlewareEnv struct {
	codec *token.Codec
	svc   *session.Service
	clock *movableClock
}

func newMiddlewareEnv(t *testing.T) *middlewareEnv {
	t.Helper()

	clock := &movableClock{t: time.Now().UTC()}
	codec, err := token.NewCodec([]byte("test-secret-key-for-signing"), "bookmesh", 30*time.Second)
	require.NoError(t, err)
	codec.WithClock(clock.Now)

	svc := session.NewService(store.NewMemoryStore(), codec, password.NewBcryptHasher(), session.Config{
		AccessTTL:  time.Hour,
		RenewalTTL: 7 * 24 * time.Hour,
	}, nil).WithClock(clock.Now)

	return &middlewareEnv{codec: codec, svc: svc, clock: clock}
}

func (e *middlewareEnv) loginAlice(t *testing.T) *session.TokenPair {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Register(ctx, "alice@example.com", "password1", "Alice")
	require.NoError(t, err)
	pair, _, err := e.svc.Login(ctx, "alice@example.com", "password1")
	require.NoError(t, err)
	return pair
}

// echoIdentity records the identity the middleware attached.
func echoIdentity(captured **Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	env := newMiddlewareEnv(t)
	pair := env.loginAlice(t)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, store.RoleUser, captured.Role)

	// No renewal happened, so no rotated pair is surfaced.
	assert.Empty(t, rec.Header().Get(AccessHeader))
}

func TestMiddleware_MissingOrMalformedHeader(t *testing.T) {
	env := newMiddlewareEnv(t)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "not bearer", header: "Basic abc123"},
		{name: "empty token", header: "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Nil(t, captured)
}

func TestMiddleware_InvalidTokenNeverRenews(t *testing.T) {
	env := newMiddlewareEnv(t)
	pair := env.loginAlice(t)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	// Forged access token, valid renewal token alongside: still rejected
	// without a renewal attempt.
	otherCodec, err := token.NewCodec([]byte("different-secret-entirely"), "bookmesh", time.Minute)
	require.NoError(t, err)
	now := env.clock.Now()
	forged, err := otherCodec.EncodeAccess(token.AccessClaims{
		Subject: "principal-x", Role: "admin", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	req.Header.Set(RenewalHeader, pair.RenewalToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)

	// The renewal token was not consumed and still renews normally.
	_, err = env.svc.Renew(context.Background(), pair.RenewalToken)
	require.NoError(t, err)
}

func TestMiddleware_ExpiredTokenRenewsViaHeader(t *testing.T) {
	env := newMiddlewareEnv(t)
	pair := env.loginAlice(t)

	env.clock.Advance(time.Hour + 2*time.Minute)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set(RenewalHeader, pair.RenewalToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Renewed inline and proceeded.
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)

	// Rotated pair surfaced so the client can update stored credentials.
	newAccess := rec.Header().Get(AccessHeader)
	newRenewal := rec.Header().Get(RenewalHeader)
	require.NotEmpty(t, newAccess)
	require.NotEmpty(t, newRenewal)
	assert.NotEqual(t, pair.RenewalToken, newRenewal)

	claims, err := env.codec.DecodeAccess(newAccess)
	require.NoError(t, err)
	assert.Equal(t, captured.PrincipalID, claims.Subject)

	// The original renewal token was rotated out by the inline renewal.
	_, err = env.svc.Renew(context.Background(), pair.RenewalToken)
	assert.ErrorIs(t, err, session.ErrRenewalReused)
}

func TestMiddleware_ExpiredTokenRenewsViaCookie(t *testing.T) {
	env := newMiddlewareEnv(t)
	pair := env.loginAlice(t)

	env.clock.Advance(time.Hour + 2*time.Minute)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.AddCookie(&http.Cookie{Name: RenewalCookieName, Value: pair.RenewalToken})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)

	// Cookie transport gets the rotated renewal token back as a cookie.
	var renewalCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == RenewalCookieName {
			renewalCookie = c
		}
	}
	require.NotNil(t, renewalCookie)
	assert.NotEqual(t, pair.RenewalToken, renewalCookie.Value)
	assert.True(t, renewalCookie.HttpOnly, "renewal cookie must not be script-readable")
}

func TestMiddleware_ExpiredWithoutRenewalToken(t *testing.T) {
	env := newMiddlewareEnv(t)
	pair := env.loginAlice(t)

	env.clock.Advance(time.Hour + 2*time.Minute)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)
}

func TestMiddleware_ExpiredWithRevokedRenewalToken(t *testing.T) {
	env := newMiddlewareEnv(t)
	pair := env.loginAlice(t)

	// Logout revokes the renewal credential before it is presented.
	claims, err := env.codec.DecodeRenewal(pair.RenewalToken)
	require.NoError(t, err)
	require.NoError(t, env.svc.Logout(context.Background(), claims.Subject))

	env.clock.Advance(time.Hour + 2*time.Minute)

	var captured *Identity
	handler := Middleware(env.codec, env.svc, nil)(echoIdentity(&captured))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.Header.Set(RenewalHeader, pair.RenewalToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAdmin()(next)

	t.Run("admin allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{PrincipalID: "p", Role: "admin"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{PrincipalID: "p", Role: "user"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

// ABOUTME: HTTP verifier middleware shared by every consuming service
// ABOUTME: Verifies access tokens locally and renews transparently on expiry

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bookmesh/bookmesh/internal/session"
	"github.com/bookmesh/bookmesh/internal/token"
)

// Transport slots for the credential pair. The access token always rides
// the Authorization header; the renewal token may arrive by header or by
// a scoped, non-script-readable cookie, per service policy.
const (
	AccessHeader      = "X-Access-Token"
	RenewalHeader     = "X-Renewal-Token"
	RenewalCookieName = "bookmesh_renewal"
)

// Renewer exchanges a still-valid renewal token for a fresh credential
// pair. The issuer service passes its session.Service directly; services
// that only verify use a RemoteRenewer and need no store access.
type Renewer interface {
	Renew(ctx context.Context, renewalToken string) (*session.TokenPair, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	tok := strings.TrimPrefix(authHeader, "Bearer ")
	if tok == "" {
		return "", "empty token"
	}
	return tok, ""
}

// renewalTokenFromRequest pulls the renewal token from its header slot or,
// failing that, from the scoped cookie. Empty when neither is present.
func renewalTokenFromRequest(r *http.Request) string {
	if tok := r.Header.Get(RenewalHeader); tok != "" {
		return tok
	}
	if cookie, err := r.Cookie(RenewalCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// Middleware returns an HTTP middleware that verifies the access token
// locally and attaches the Identity to the request context. An expired
// access token triggers one renewal attempt; the rotated pair is surfaced
// to the caller via response headers so the client can update its stored
// credentials. Any other decode failure rejects immediately: an invalid
// token is never worth renewing.
func Middleware(codec *token.Codec, renewer Renewer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "verifier")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accessToken, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := codec.DecodeAccess(accessToken)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), &Identity{
					PrincipalID: claims.Subject,
					Role:        claims.Role,
				})))
				return
			}

			if !errors.Is(err, token.ErrTokenExpired) {
				logger.Warn("rejected access token", "reason", "invalid")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			// Expired is the one failure worth renewing.
			renewalToken := renewalTokenFromRequest(r)
			if renewalToken == "" {
				http.Error(w, `{"error":"session expired"}`, http.StatusUnauthorized)
				return
			}

			pair, err := renewer.Renew(r.Context(), renewalToken)
			if err != nil {
				if errors.Is(err, session.ErrStoreUnavailable) {
					http.Error(w, `{"error":"temporarily unavailable"}`, http.StatusServiceUnavailable)
					return
				}
				logger.Warn("renewal failed during request", "error", err)
				http.Error(w, `{"error":"session expired"}`, http.StatusUnauthorized)
				return
			}

			freshClaims, err := codec.DecodeAccess(pair.AccessToken)
			if err != nil {
				logger.Error("issuer returned unverifiable access token", "error", err)
				http.Error(w, `{"error":"session expired"}`, http.StatusUnauthorized)
				return
			}

			// Surface the rotated pair so the client replaces its stored
			// credentials; the old renewal token is already dead.
			w.Header().Set(AccessHeader, pair.AccessToken)
			w.Header().Set(RenewalHeader, pair.RenewalToken)
			if _, cookieErr := r.Cookie(RenewalCookieName); cookieErr == nil {
				if renewalClaims, decodeErr := codec.DecodeRenewal(pair.RenewalToken); decodeErr == nil {
					http.SetCookie(w, &http.Cookie{
						Name:     RenewalCookieName,
						Value:    pair.RenewalToken,
						Path:     "/",
						HttpOnly: true,
						SameSite: http.SameSiteStrictMode,
						Expires:  renewalClaims.ExpiresAt,
					})
				}
			}

			logger.Debug("renewed session inline", "principal", freshClaims.Subject)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), &Identity{
				PrincipalID: freshClaims.Subject,
				Role:        freshClaims.Role,
			})))
		})
	}
}

// RequireAdmin returns an HTTP middleware that requires the admin role.
// Must be used after Middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}
			if !id.IsAdmin() {
				http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

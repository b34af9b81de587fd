// ABOUTME: JSON HTTP API for the issuer service
// ABOUTME: Registration, login, renewal, logout, password change, and identity lookup

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bookmesh/bookmesh/internal/auth"
	"github.com/bookmesh/bookmesh/internal/session"
	"github.com/bookmesh/bookmesh/internal/token"
)

// Server exposes the issuer's session operations over HTTP.
type Server struct {
	svc    *session.Service
	codec  *token.Codec
	logger *slog.Logger
}

// NewServer creates the HTTP API server.
func NewServer(svc *session.Service, codec *token.Codec, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		codec:  codec,
		logger: logger.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the mux. Protected routes go
// through the verifier middleware; the renewer is the local service, so an
// expired access token renews without leaving the process.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	verify := auth.Middleware(s.codec, s.svc, s.logger)

	mux.HandleFunc("/api/users/register", s.handleRegister)
	mux.HandleFunc("/api/session/login", s.handleLogin)
	mux.HandleFunc("/api/session/renew", s.handleRenew)
	mux.Handle("/api/session/logout", verify(http.HandlerFunc(s.handleLogout)))
	mux.Handle("/api/users/password", verify(http.HandlerFunc(s.handleChangePassword)))
	mux.Handle("/api/users/me", verify(http.HandlerFunc(s.handleMe)))
	mux.HandleFunc("/health", s.handleHealth)
}

// RegisterRequest is the JSON request body for POST /api/users/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the JSON request body for POST /api/session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for POST /api/session/login.
type LoginResponse struct {
	AccessToken  string                    `json:"access_token"`
	RenewalToken string                    `json:"renewal_token"`
	Principal    *session.PrincipalSummary `json:"principal"`
}

// RenewRequest is the JSON request body for POST /api/session/renew.
type RenewRequest struct {
	RenewalToken string `json:"renewal_token"`
}

// ChangePasswordRequest is the JSON request body for POST /api/users/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleRegister handles POST /api/users/register requests.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	summary, err := s.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, summary)
}

// handleLogin handles POST /api/session/login requests. On success the
// credential pair is returned in the body and the renewal token is also set
// as an HttpOnly cookie for browser clients.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, summary, err := s.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.setRenewalCookie(w, pair.RenewalToken)
	s.sendJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  pair.AccessToken,
		RenewalToken: pair.RenewalToken,
		Principal:    summary,
	})
}

// handleRenew handles POST /api/session/renew requests. The renewal token
// comes from the JSON body, the renewal header, or the renewal cookie, in
// that order.
func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RenewRequest
	// Body is optional for cookie-based clients.
	_ = json.NewDecoder(r.Body).Decode(&req)

	renewalToken := req.RenewalToken
	if renewalToken == "" {
		renewalToken = r.Header.Get(auth.RenewalHeader)
	}
	if renewalToken == "" {
		if c, err := r.Cookie(auth.RenewalCookieName); err == nil {
			renewalToken = c.Value
		}
	}
	if renewalToken == "" {
		s.sendJSONError(w, http.StatusBadRequest, "renewal token is required")
		return
	}

	pair, err := s.svc.Renew(r.Context(), renewalToken)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.setRenewalCookie(w, pair.RenewalToken)
	s.sendJSON(w, http.StatusOK, pair)
}

// handleLogout handles POST /api/session/logout requests. Protected: the
// caller's identity comes from the verifier middleware.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := auth.MustFromContext(r.Context())
	if err := s.svc.Logout(r.Context(), id.PrincipalID); err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.clearRenewalCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword handles POST /api/users/password requests. A
// successful change revokes every outstanding renewal token, so the client
// must log in again.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := auth.MustFromContext(r.Context())
	if err := s.svc.ChangePassword(r.Context(), id.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.clearRenewalCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /api/users/me requests.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := auth.MustFromContext(r.Context())
	summary, err := s.svc.Principal(r.Context(), id.PrincipalID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, summary)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendServiceError maps session errors to HTTP status codes.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmailTaken):
		s.sendJSONError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, session.ErrMalformedEmail):
		s.sendJSONError(w, http.StatusBadRequest, "malformed email")
	case errors.Is(err, session.ErrPasswordTooShort):
		s.sendJSONError(w, http.StatusBadRequest, "password too short")
	case errors.Is(err, session.ErrInvalidCredentials):
		s.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrRenewalReused):
		s.sendJSONError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, session.ErrStoreUnavailable):
		s.sendJSONError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error("unhandled service error", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// setRenewalCookie sets the renewal token as an HttpOnly cookie with an
// expiry matching the token's own.
func (s *Server) setRenewalCookie(w http.ResponseWriter, renewalToken string) {
	claims, err := s.codec.DecodeRenewal(renewalToken)
	if err != nil {
		// Freshly minted by the same codec; decode failure means a bug.
		s.logger.Error("decoding minted renewal token", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RenewalCookieName,
		Value:    renewalToken,
		Path:     "/",
		Expires:  claims.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearRenewalCookie expires the renewal cookie.
func (s *Server) clearRenewalCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RenewalCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// sendJSON writes a JSON response with the given status code.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

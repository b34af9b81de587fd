// ABOUTME: Remote renewer for services that verify but do not issue
// ABOUTME: Calls the issuer's renewal endpoint; holds no principal store access

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bookmesh/bookmesh/internal/session"
)

// RemoteRenewer implements Renewer by calling the issuer service's
// renewal endpoint. Every other verification stays local to the consuming
// service; this is the one rare cross-service call in the scheme.
type RemoteRenewer struct {
	issuerURL string
	client    *http.Client
}

// NewRemoteRenewer creates a renewer pointed at the issuer's base URL,
// e.g. "http://users.internal:8080".
func NewRemoteRenewer(issuerURL string) *RemoteRenewer {
	return &RemoteRenewer{
		issuerURL: strings.TrimRight(issuerURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// renewRequest is the wire form of the renewal call.
type renewRequest struct {
	RenewalToken string `json:"renewal_token"`
}

// Renew exchanges the renewal token at the issuer. Token-level failures
// map to session.ErrSessionExpired (the caller must re-authenticate);
// issuer outages map to session.ErrStoreUnavailable.
func (r *RemoteRenewer) Renew(ctx context.Context, renewalToken string) (*session.TokenPair, error) {
	body, err := json.Marshal(renewRequest{RenewalToken: renewalToken})
	if err != nil {
		return nil, fmt.Errorf("encoding renewal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.issuerURL+"/api/session/renew", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating renewal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, session.ErrSessionExpired
	case http.StatusServiceUnavailable:
		return nil, session.ErrStoreUnavailable
	default:
		return nil, fmt.Errorf("renewal failed: issuer returned status %d", resp.StatusCode)
	}

	var pair session.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("decoding renewal response: %w", err)
	}
	if pair.AccessToken == "" || pair.RenewalToken == "" {
		return nil, fmt.Errorf("renewal response missing tokens")
	}
	return &pair, nil
}

var _ Renewer = (*RemoteRenewer)(nil)

// Package session supplies the current user identity and bearer token.
//
// Tokens live in the local store under well-known keys. The access token is
// decoded without signature verification (the server is the verifier) to read
// the user id and expiry. An expired access token is refreshed against
// POST /api/auth/refresh; a failed refresh clears the session and sends the
// user back to login.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/retry"
	"github.com/juannvilchez/ciudadseguraappi/pkg/store"
)

// Store is the persistence surface the session needs
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Clear() error
}

// Navigator redirects the user when the session is no longer usable
type Navigator interface {
	ReturnToLogin()
}

// Manager resolves and refreshes session credentials
type Manager struct {
	store      Store
	nav        Navigator
	baseURL    string
	httpClient *http.Client
	runner     *retry.Runner
	logger     *logx.Logger

	mu sync.Mutex
}

// refreshRequest is the token refresh request body
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse is the token refresh response body
type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// New creates a session manager against the given base API URL
func New(baseURL string, st Store, nav Navigator, logger *logx.Logger) *Manager {
	return &Manager{
		store:      st,
		nav:        nav,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		runner:     retry.NewRunner(retry.DefaultConfig()),
		logger:     logger,
	}
}

// UserID returns the user id claim of the stored access token
func (m *Manager) UserID() (string, error) {
	token, err := m.store.Get(store.KeyToken)
	if err != nil {
		return "", fmt.Errorf("no stored token: %w", err)
	}
	return userIDClaim(token)
}

// userIDClaim decodes the id claim without verifying the signature.
// The claim arrives as a JSON number or string depending on the issuer.
func userIDClaim(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("malformed token: %w", err)
	}

	switch id := claims["id"].(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("token has empty id claim")
		}
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("token has no id claim")
	}
}

// AuthToken returns a usable bearer token, refreshing it first when the
// stored one has expired
func (m *Manager) AuthToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.store.Get(store.KeyToken)
	if err != nil {
		return "", fmt.Errorf("no stored token: %w", err)
	}

	if !expired(token) {
		return token, nil
	}

	m.logger.Debug("access token expired, refreshing")
	refreshed, err := m.refresh()
	if err != nil {
		// The session is unrecoverable: clear it and send the user to login
		if clearErr := m.store.Clear(); clearErr != nil {
			m.logger.Error("failed to clear stale session", "error", clearErr.Error())
		}
		if m.nav != nil {
			m.nav.ReturnToLogin()
		}
		return "", fmt.Errorf("session expired: %w", err)
	}
	return refreshed, nil
}

// expired reports whether the token carries an exp claim in the past.
// A token without exp is treated as still valid.
func expired(tokenString string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// refresh exchanges the stored refresh token for a new access token
func (m *Manager) refresh() (string, error) {
	refreshToken, err := m.store.Get(store.KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("no refresh token: %w", err)
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	var accessToken string
	err = m.runner.Do(context.Background(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("refresh request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
		}

		var parsed refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode refresh response: %w", err)
		}
		if parsed.AccessToken == "" {
			return fmt.Errorf("refresh response missing access token")
		}
		accessToken = parsed.AccessToken
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := m.store.Set(store.KeyToken, accessToken); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info("access token refreshed")
	return accessToken, nil
}

// Role returns the stored user role, empty when absent
func (m *Manager) Role() string {
	v, err := m.store.Get(store.KeyRole)
	if err != nil {
		return ""
	}
	return v
}

// Category returns the stored user category, empty when absent
func (m *Manager) Category() string {
	v, err := m.store.Get(store.KeyCategory)
	if err != nil {
		return ""
	}
	return v
}

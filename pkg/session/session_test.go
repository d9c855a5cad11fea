package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/retry"
	"github.com/juannvilchez/ciudadseguraappi/pkg/store"
)

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (m *memStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{}
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

type fakeNav struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNav) ReturnToLogin() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeNav) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tok
}

func TestUserIDFromNumericClaim(t *testing.T) {
	st := newMemStore()
	st.Set(store.KeyToken, signToken(t, jwt.MapClaims{"id": 42}))
	m := New("http://unused", st, &fakeNav{}, logx.New("error"))

	id, err := m.UserID()
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if id != "42" {
		t.Errorf("expected 42, got %q", id)
	}
}

func TestUserIDFromStringClaim(t *testing.T) {
	st := newMemStore()
	st.Set(store.KeyToken, signToken(t, jwt.MapClaims{"id": "user-abc"}))
	m := New("http://unused", st, &fakeNav{}, logx.New("error"))

	id, err := m.UserID()
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if id != "user-abc" {
		t.Errorf("expected user-abc, got %q", id)
	}
}

func TestUserIDErrors(t *testing.T) {
	tests := []struct {
		name  string
		token string
		store bool
	}{
		{"no stored token", "", false},
		{"malformed token", "not-a-jwt", true},
		{"missing id claim", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			if tt.store {
				tok := tt.token
				if tok == "" {
					tok = signToken(t, jwt.MapClaims{"sub": "x"})
				}
				st.Set(store.KeyToken, tok)
			}
			m := New("http://unused", st, &fakeNav{}, logx.New("error"))
			if _, err := m.UserID(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAuthTokenValidTokenPassesThrough(t *testing.T) {
	st := newMemStore()
	tok := signToken(t, jwt.MapClaims{
		"id":  42,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	st.Set(store.KeyToken, tok)

	// No server: any refresh attempt would fail loudly
	m := New("http://127.0.0.1:1", st, &fakeNav{}, logx.New("error"))

	got, err := m.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken failed: %v", err)
	}
	if got != tok {
		t.Error("expected stored token returned unchanged")
	}
}

func TestAuthTokenWithoutExpiryIsValid(t *testing.T) {
	st := newMemStore()
	tok := signToken(t, jwt.MapClaims{"id": 42})
	st.Set(store.KeyToken, tok)
	m := New("http://127.0.0.1:1", st, &fakeNav{}, logx.New("error"))

	got, err := m.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken failed: %v", err)
	}
	if got != tok {
		t.Error("token without exp must be treated as valid")
	}
}

func TestAuthTokenRefreshesExpiredToken(t *testing.T) {
	fresh := signToken(t, jwt.MapClaims{
		"id":  42,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var gotRefreshToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotRefreshToken = req.RefreshToken
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": fresh})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st := newMemStore()
	st.Set(store.KeyToken, signToken(t, jwt.MapClaims{
		"id":  42,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}))
	st.Set(store.KeyRefreshToken, "refresh-123")

	m := New(ts.URL, st, &fakeNav{}, logx.New("error"))

	got, err := m.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken failed: %v", err)
	}
	if got != fresh {
		t.Error("expected refreshed token returned")
	}
	if gotRefreshToken != "refresh-123" {
		t.Errorf("refresh request carried %q", gotRefreshToken)
	}

	stored, err := st.Get(store.KeyToken)
	if err != nil || stored != fresh {
		t.Error("refreshed token must be persisted")
	}
}

func TestAuthTokenRefreshFailureClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	st := newMemStore()
	st.Set(store.KeyToken, signToken(t, jwt.MapClaims{
		"id":  42,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}))
	st.Set(store.KeyRefreshToken, "refresh-123")
	st.Set(store.KeyRole, "vecino")

	nav := &fakeNav{}
	m := New(ts.URL, st, nav, logx.New("error"))
	m.runner = retry.NewRunner(retry.Config{
		MaxAttempts:   2,
		InitialDelay:  1 * time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	})

	if _, err := m.AuthToken(); err == nil {
		t.Fatal("expected error when refresh is rejected")
	}
	if st.len() != 0 {
		t.Error("session must be cleared after failed refresh")
	}
	if nav.count() != 1 {
		t.Errorf("expected one return-to-login, got %d", nav.count())
	}
}

func TestAuthTokenMissingRefreshToken(t *testing.T) {
	st := newMemStore()
	st.Set(store.KeyToken, signToken(t, jwt.MapClaims{
		"id":  42,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}))

	nav := &fakeNav{}
	m := New("http://127.0.0.1:1", st, nav, logx.New("error"))

	_, err := m.AuthToken()
	if err == nil {
		t.Fatal("expected error without refresh token")
	}
	if !errors.Is(err, store.ErrNotFound) {
		// The wrapped chain should reach the store sentinel
		t.Errorf("expected ErrNotFound in chain, got %v", err)
	}
	if nav.count() != 1 {
		t.Errorf("expected return-to-login, got %d calls", nav.count())
	}
}

func TestRoleAndCategory(t *testing.T) {
	st := newMemStore()
	st.Set(store.KeyRole, "vecino")
	m := New("http://unused", st, &fakeNav{}, logx.New("error"))

	if m.Role() != "vecino" {
		t.Errorf("unexpected role %q", m.Role())
	}
	if m.Category() != "" {
		t.Errorf("expected empty category, got %q", m.Category())
	}
}

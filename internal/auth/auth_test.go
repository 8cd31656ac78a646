package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type mockStore struct {
	getByKeyFunc func(ctx context.Context, key string) (*APIKey, error)
	createFunc   func(ctx context.Context, apiKey *APIKey) error
	revokeFunc   func(ctx context.Context, keyID string) error
}

func (m *mockStore) GetByKey(ctx context.Context, key string) (*APIKey, error) {
	if m.getByKeyFunc != nil {
		return m.getByKeyFunc(ctx, key)
	}
	return nil, ErrKeyNotFound
}

func (m *mockStore) Create(ctx context.Context, apiKey *APIKey) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, apiKey)
	}
	return nil
}

func (m *mockStore) Revoke(ctx context.Context, keyID string) error {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, keyID)
	}
	return nil
}

// deadCache returns a client pointing nowhere, so every cache call fails
// and the middleware falls back to the store.
func deadCache() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
}

func TestMiddleware_MissingHeader(t *testing.T) {
	mw := NewMiddleware(&mockStore{}, deadCache(), zerolog.Nop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/reports/today", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestMiddleware_InvalidKey(t *testing.T) {
	store := &mockStore{
		getByKeyFunc: func(ctx context.Context, key string) (*APIKey, error) {
			return nil, ErrKeyNotFound
		},
	}
	mw := NewMiddleware(store, deadCache(), zerolog.Nop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest("GET", "/v1/reports/today", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_StoreError(t *testing.T) {
	store := &mockStore{
		getByKeyFunc: func(ctx context.Context, key string) (*APIKey, error) {
			return nil, errors.New("connection refused")
		},
	}
	mw := NewMiddleware(store, deadCache(), zerolog.Nop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest("GET", "/v1/reports/today", nil)
	req.Header.Set("Authorization", "Bearer some-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestMiddleware_ValidKey(t *testing.T) {
	key := &APIKey{ID: "id-1", Service: "recipes", Reports: true, Active: true}
	store := &mockStore{
		getByKeyFunc: func(ctx context.Context, raw string) (*APIKey, error) {
			if raw != "valid-key" {
				return nil, ErrKeyNotFound
			}
			return key, nil
		},
	}

	var seenKey *APIKey
	var seenService string
	mw := NewMiddleware(store, deadCache(), zerolog.Nop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = GetAPIKey(r.Context())
		seenService = GetService(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/usage/tokens", nil)
	req.Header.Set("Authorization", "Bearer valid-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seenKey == nil || seenKey.ID != "id-1" {
		t.Errorf("expected api key in context, got %+v", seenKey)
	}
	if seenService != "recipes" {
		t.Errorf("expected service %q, got %q", "recipes", seenService)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequireReports(t *testing.T) {
	h := RequireReports(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		key  *APIKey
		want int
	}{
		{"no key", nil, http.StatusForbidden},
		{"no report access", &APIKey{ID: "a", Service: "recipes"}, http.StatusForbidden},
		{"report access", &APIKey{ID: "b", Service: "ops", Reports: true}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/reports/today", nil)
			if tt.key != nil {
				req = req.WithContext(WithAPIKey(req.Context(), tt.key))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHashKey(t *testing.T) {
	h1 := HashKey("some-key")
	h2 := HashKey("some-key")
	if h1 != h2 {
		t.Error("expected deterministic hash")
	}
	if len(h1) != 64 {
		t.Errorf("expected hex sha256 of length 64, got %d", len(h1))
	}
	if HashKey("other-key") == h1 {
		t.Error("expected different keys to hash differently")
	}
}

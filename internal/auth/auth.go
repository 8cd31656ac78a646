// Package auth authenticates callers of the cost-tracking service with
// API keys. Keys belong to a calling service (the app backend, operator
// tooling) and carry a flag gating the report surface.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrKeyNotFound = errors.New("api key not found")

type APIKey struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	KeyHash   string    `json:"key_hash"`
	Reports   bool      `json:"reports"` // may read the report endpoints
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	serviceKey   contextKey = "service"
	apiKeyKey    contextKey = "api_key"
	requestIDKey contextKey = "request_id"
)

const cacheTTL = 5 * time.Minute

// NewMiddleware authenticates requests with a Bearer API key, caching
// successful lookups in Redis for five minutes.
func NewMiddleware(store Store, cache *redis.Client, logger zerolog.Logger) Middleware {
	logger = logger.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			var cached APIKey
			err := cache.Get(ctx, redisKey).Scan(&cached)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(withAPIKey(ctx, &cached)))
				return
			} else if err != redis.Nil {
				logger.Warn().Err(err).Msg("redis lookup failed, falling back to store")
			}

			apiKey, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
					return
				}
				logger.Error().Err(err).Msg("api key lookup failed")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if err := cache.Set(ctx, redisKey, apiKey, cacheTTL).Err(); err != nil {
				logger.Warn().Err(err).Msg("failed to cache api key")
			}

			next.ServeHTTP(w, r.WithContext(withAPIKey(ctx, apiKey)))
		})
	}
}

// RequireReports gates handlers behind the key's reports flag.
func RequireReports(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetAPIKey(r.Context())
		if key == nil || !key.Reports {
			http.Error(w, "Forbidden: key has no report access", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashKey returns the hex SHA-256 of an API key. Only hashes are stored.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func withAPIKey(ctx context.Context, key *APIKey) context.Context {
	ctx = context.WithValue(ctx, serviceKey, key.Service)
	return context.WithValue(ctx, apiKeyKey, key)
}

// Helpers to extract from context
func GetService(ctx context.Context) string {
	if s, ok := ctx.Value(serviceKey).(string); ok {
		return s
	}
	return ""
}

func GetAPIKey(ctx context.Context) *APIKey {
	if k, ok := ctx.Value(apiKeyKey).(*APIKey); ok {
		return k
	}
	return nil
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return withAPIKey(ctx, key)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

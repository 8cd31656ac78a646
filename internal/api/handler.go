// Package api exposes the cost-tracking library over HTTP: an ingestion
// surface for the app's model-calling services and a report surface for
// operator tooling.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/staslianx/balli-sub011/internal/auth"
	"github.com/staslianx/balli-sub011/internal/report"
	"github.com/staslianx/balli-sub011/internal/tracking"
	"github.com/staslianx/balli-sub011/internal/worker"
	"github.com/staslianx/balli-sub011/pkg/ratelimit"
)

type Handler struct {
	queue    *worker.Queue
	recorder *tracking.Recorder
	reporter *report.Reporter
	limiter  *ratelimit.Limiter
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
}

func NewHandler(queue *worker.Queue, recorder *tracking.Recorder, reporter *report.Reporter, limiter *ratelimit.Limiter, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:    queue,
		recorder: recorder,
		reporter: reporter,
		limiter:  limiter,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes assembles the authenticated API surface. Report endpoints
// additionally require the key's reports flag.
func (h *Handler) Routes(authMiddleware auth.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/usage/tokens", h.HandleLogTokens)
	r.Post("/usage/images", h.HandleLogImages)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireReports)
		r.Get("/reports", h.HandleCustomReport)
		r.Get("/reports/today", h.HandleTodayReport)
		r.Get("/reports/weekly", h.HandleWeeklyReport)
		r.Get("/reports/monthly", h.HandleMonthlyReport)
		r.Get("/reports/last/{days}", h.HandleLastNDaysReport)
		r.Get("/reports/features", h.HandleFeatureComparison)
		r.Get("/reports/top-feature", h.HandleTopFeature)
		r.Get("/logs/{date}", h.HandleUsageLogs)
	})

	return r
}

type tokenUsageRequest struct {
	Feature       string            `json:"feature"`
	Model         string            `json:"model"`
	InputTokens   *int64            `json:"input_tokens"`
	OutputTokens  *int64            `json:"output_tokens"`
	UserID        string            `json:"user_id"`
	Metadata      map[string]string `json:"metadata"`
	ModelResponse json.RawMessage   `json:"model_response"` // raw provider response, used when counts are absent
}

type imageUsageRequest struct {
	Feature    string            `json:"feature"`
	Model      string            `json:"model"`
	ImageCount int               `json:"image_count"`
	UserID     string            `json:"user_id"`
	Metadata   map[string]string `json:"metadata"`
}

// HandleLogTokens accepts one token usage record. The write is queued and
// always acknowledged: recording failures never surface to callers.
func (h *Handler) HandleLogTokens(w http.ResponseWriter, r *http.Request) {
	var req tokenUsageRequest
	if !h.decodeIngest(w, r, &req, req.validate) {
		return
	}

	usage := tracking.TokenUsage{
		Feature:  tracking.Feature(req.Feature),
		Model:    req.Model,
		UserID:   req.UserID,
		Metadata: req.Metadata,
	}

	if req.InputTokens != nil || req.OutputTokens != nil {
		if req.InputTokens != nil {
			usage.InputTokens = *req.InputTokens
		}
		if req.OutputTokens != nil {
			usage.OutputTokens = *req.OutputTokens
		}
	} else if len(req.ModelResponse) > 0 {
		counts := h.recorder.ExtractTokenCounts(req.ModelResponse)
		usage.InputTokens = counts.InputTokens
		usage.OutputTokens = counts.OutputTokens
	}

	h.queue.EnqueueTokenUsage(usage)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleLogImages accepts one image usage record.
func (h *Handler) HandleLogImages(w http.ResponseWriter, r *http.Request) {
	var req imageUsageRequest
	if !h.decodeIngest(w, r, &req, req.validate) {
		return
	}

	h.queue.EnqueueImageUsage(tracking.ImageUsage{
		Feature:  tracking.Feature(req.Feature),
		Model:    req.Model,
		Count:    req.ImageCount,
		UserID:   req.UserID,
		Metadata: req.Metadata,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *tokenUsageRequest) validate() string {
	if r.Feature == "" {
		return "feature is required"
	}
	if r.Model == "" {
		return "model is required"
	}
	return ""
}

func (r *imageUsageRequest) validate() string {
	if r.Feature == "" {
		return "feature is required"
	}
	if r.Model == "" {
		return "model is required"
	}
	return ""
}

// decodeIngest parses and validates an ingestion body, enforcing the
// per-key rate limit first. Returns false when the response is written.
func (h *Handler) decodeIngest(w http.ResponseWriter, r *http.Request, dst any, validate func() string) bool {
	key := auth.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}

	allowed, err := h.limiter.Allow(r.Context(), key.ID)
	if err != nil {
		// Fail open: a degraded limiter must not block ingestion.
		h.logger.Warn().Err(err).Msg("rate limiter unavailable")
	} else if !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if problem := validate(); problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseDays reads a positive day count from a string, with a fallback.
func parseDays(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

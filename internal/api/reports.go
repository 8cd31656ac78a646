package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/staslianx/balli-sub011/internal/report"
	"github.com/staslianx/balli-sub011/internal/tracking"
)

// HandleTodayReport serves the report for the current day.
func (h *Handler) HandleTodayReport(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "report:today", func(ctx context.Context) (*report.CostReport, error) {
		return h.reporter.GetTodayCostReport(ctx)
	})
}

// HandleWeeklyReport serves the report for the current Monday-to-Sunday week.
func (h *Handler) HandleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "report:weekly", func(ctx context.Context) (*report.CostReport, error) {
		return h.reporter.GetWeeklyCostReport(ctx)
	})
}

// HandleMonthlyReport serves the report for the current calendar month.
func (h *Handler) HandleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "report:monthly", func(ctx context.Context) (*report.CostReport, error) {
		return h.reporter.GetMonthlyCostReport(ctx)
	})
}

// HandleCustomReport serves a report over an explicit start/end date range.
func (h *Handler) HandleCustomReport(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}
	if !validDate(start) || !validDate(end) {
		writeError(w, http.StatusBadRequest, "dates must be formatted YYYY-MM-DD")
		return
	}

	cacheKey := fmt.Sprintf("report:custom:%s:%s", start, end)
	h.serveReport(w, r, cacheKey, func(ctx context.Context) (*report.CostReport, error) {
		return h.reporter.GetCostReport(ctx, start, end)
	})
}

// HandleLastNDaysReport serves a rolling window ending today.
func (h *Handler) HandleLastNDaysReport(w http.ResponseWriter, r *http.Request) {
	days := parseDays(chi.URLParam(r, "days"), 0)
	if days < 1 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}

	cacheKey := fmt.Sprintf("report:last:%d", days)
	h.serveReport(w, r, cacheKey, func(ctx context.Context) (*report.CostReport, error) {
		return h.reporter.GetLastNDaysCostReport(ctx, days)
	})
}

// HandleFeatureComparison serves per-feature stats over the last N days.
func (h *Handler) HandleFeatureComparison(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r.URL.Query().Get("days"), 7)

	stats, err := h.reporter.GetFeatureComparison(r.Context(), days)
	if err != nil {
		h.logger.Error().Err(err).Msg("feature comparison failed")
		writeError(w, http.StatusInternalServerError, "failed to build feature comparison")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "features": stats})
}

// HandleTopFeature serves the single most expensive feature over the last N days.
func (h *Handler) HandleTopFeature(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r.URL.Query().Get("days"), 7)

	feature, err := h.reporter.GetMostExpensiveFeature(r.Context(), days)
	if err != nil {
		h.logger.Error().Err(err).Msg("top feature lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to determine top feature")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "feature": feature})
}

// HandleUsageLogs serves raw usage events for one day, newest first.
func (h *Handler) HandleUsageLogs(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		return
	}

	events, err := h.reporter.GetUsageLogsForDate(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Msg("usage log query failed")
		writeError(w, http.StatusInternalServerError, "failed to load usage logs")
		return
	}
	if events == nil {
		events = []*tracking.UsageEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "events": events})
}

// serveReport answers a report request, consulting the Redis cache for the
// JSON rendering. ?format=text renders through report.Format and bypasses
// the cache.
func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request, cacheKey string, build func(context.Context) (*report.CostReport, error)) {
	ctx := r.Context()
	asText := r.URL.Query().Get("format") == "text"

	if !asText && h.cache != nil {
		if cached, err := h.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		} else if err != redis.Nil {
			h.logger.Warn().Err(err).Str("key", cacheKey).Msg("report cache read failed")
		}
	}

	rep, err := build(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("key", cacheKey).Msg("report build failed")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	if asText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Format(rep)))
		return
	}

	body, err := json.Marshal(rep)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode report")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, body, h.cacheTTL).Err(); err != nil {
			h.logger.Warn().Err(err).Str("key", cacheKey).Msg("report cache write failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func validDate(s string) bool {
	_, err := time.Parse(tracking.DateFormat, s)
	return err == nil
}

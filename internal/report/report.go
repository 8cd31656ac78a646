// Package report builds cost reports from the stored daily summaries.
//
// Reports are pull-based diagnostic reads for operators: unlike the write
// side, query failures here propagate to the caller.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/staslianx/balli-sub011/internal/tracking"
)

// Period tags carried on a CostReport.
const (
	PeriodCustom  = "custom"
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// maxUsageLogRows caps the drill-down event query. Aggregation never scans
// raw events; this query exists for diagnostics only.
const maxUsageLogRows = 100

// CostReport is a derived aggregation window over daily summaries. It is
// computed on read and never persisted.
type CostReport struct {
	Period                string             `json:"period"`
	StartDate             string             `json:"start_date"`
	EndDate               string             `json:"end_date"`
	TotalCost             float64            `json:"total_cost"`
	RequestCount          int64              `json:"request_count"`
	AverageCostPerRequest float64            `json:"average_cost_per_request"`
	ByFeature             map[string]float64 `json:"by_feature"`
	ByModel               map[string]float64 `json:"by_model"`
}

// FeatureStat is one row of the feature comparison report.
//
// RequestCount is prorated from the window's total by cost share, because
// daily summaries track per-feature cost but not per-feature request counts.
type FeatureStat struct {
	Feature               string  `json:"feature"`
	TotalCost             float64 `json:"total_cost"`
	RequestCount          int64   `json:"request_count"`
	AverageCostPerRequest float64 `json:"average_cost_per_request"`
	PercentOfTotal        float64 `json:"percent_of_total"`
}

// Reporter reads daily summaries and usage events.
type Reporter struct {
	store  tracking.Store
	logger zerolog.Logger
	tracer trace.Tracer
	loc    *time.Location
	now    func() time.Time
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithLocation sets the timezone used for "today" and day boundaries.
func WithLocation(loc *time.Location) ReporterOption {
	return func(r *Reporter) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReporter(store tracking.Store, logger zerolog.Logger, tracer trace.Tracer, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		store:  store,
		logger: logger.With().Str("component", "cost_reporter").Logger(),
		tracer: tracer,
		loc:    time.Local,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetCostReport folds every daily summary in [startDate, endDate] (both
// inclusive YYYY-MM-DD strings) into a single report tagged "custom".
func (r *Reporter) GetCostReport(ctx context.Context, startDate, endDate string) (*CostReport, error) {
	ctx, span := r.tracer.Start(ctx, "report.get_cost_report")
	defer span.End()
	span.SetAttributes(
		attribute.String("start_date", startDate),
		attribute.String("end_date", endDate),
	)

	summaries, err := r.store.SummariesInRange(ctx, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily summaries for [%s, %s]: %w", startDate, endDate, err)
	}

	rep := &CostReport{
		Period:    PeriodCustom,
		StartDate: startDate,
		EndDate:   endDate,
		ByFeature: make(map[string]float64),
		ByModel:   make(map[string]float64),
	}

	for _, sum := range summaries {
		rep.TotalCost += sum.TotalCost
		rep.RequestCount += sum.RequestCount
		for feature, cost := range sum.ByFeature {
			rep.ByFeature[feature] += cost
		}
		for model, cost := range sum.ByModel {
			rep.ByModel[model] += cost
		}
	}

	if rep.RequestCount > 0 {
		rep.AverageCostPerRequest = rep.TotalCost / float64(rep.RequestCount)
	}

	return rep, nil
}

// GetTodayCostReport reports on today alone.
func (r *Reporter) GetTodayCostReport(ctx context.Context) (*CostReport, error) {
	today := r.today()
	rep, err := r.GetCostReport(ctx, r.dateString(today), r.dateString(today))
	if err != nil {
		return nil, err
	}
	rep.Period = PeriodDaily
	return rep, nil
}

// GetWeeklyCostReport reports on the Monday-to-Sunday week containing today.
func (r *Reporter) GetWeeklyCostReport(ctx context.Context) (*CostReport, error) {
	today := r.today()

	// time.Weekday counts Sunday as 0: a Sunday is six days past its Monday.
	daysBack := int(today.Weekday()) - 1
	if today.Weekday() == time.Sunday {
		daysBack = 6
	}
	monday := today.AddDate(0, 0, -daysBack)
	sunday := monday.AddDate(0, 0, 6)

	rep, err := r.GetCostReport(ctx, r.dateString(monday), r.dateString(sunday))
	if err != nil {
		return nil, err
	}
	rep.Period = PeriodWeekly
	return rep, nil
}

// GetMonthlyCostReport reports on the calendar month containing today.
func (r *Reporter) GetMonthlyCostReport(ctx context.Context) (*CostReport, error) {
	today := r.today()

	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, r.loc)
	// Last day of the month is the day before the 1st of the next month.
	last := first.AddDate(0, 1, 0).AddDate(0, 0, -1)

	rep, err := r.GetCostReport(ctx, r.dateString(first), r.dateString(last))
	if err != nil {
		return nil, err
	}
	rep.Period = PeriodMonthly
	return rep, nil
}

// GetLastNDaysCostReport reports on the n calendar days ending today,
// inclusive. n below 1 is treated as 1.
func (r *Reporter) GetLastNDaysCostReport(ctx context.Context, n int) (*CostReport, error) {
	if n < 1 {
		n = 1
	}
	today := r.today()
	start := today.AddDate(0, 0, -(n - 1))

	rep, err := r.GetCostReport(ctx, r.dateString(start), r.dateString(today))
	if err != nil {
		return nil, err
	}
	rep.Period = fmt.Sprintf("last_%d_days", n)
	return rep, nil
}

// GetUsageLogsForDate returns up to 100 usage events logged on the given
// local date (YYYY-MM-DD), newest first.
func (r *Reporter) GetUsageLogsForDate(ctx context.Context, date string) ([]*tracking.UsageEvent, error) {
	ctx, span := r.tracer.Start(ctx, "report.get_usage_logs")
	defer span.End()
	span.SetAttributes(attribute.String("date", date))

	day, err := time.ParseInLocation(tracking.DateFormat, date, r.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}
	dayEnd := day.Add(24*time.Hour - time.Millisecond)

	events, err := r.store.EventsBetween(ctx, day, dayEnd, maxUsageLogRows)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage events for %s: %w", date, err)
	}

	return events, nil
}

// GetFeatureComparison breaks the last-N-days window down per feature,
// sorted by descending cost. days below 1 defaults to 7.
func (r *Reporter) GetFeatureComparison(ctx context.Context, days int) ([]FeatureStat, error) {
	if days < 1 {
		days = 7
	}

	rep, err := r.GetLastNDaysCostReport(ctx, days)
	if err != nil {
		return nil, err
	}

	stats := make([]FeatureStat, 0, len(rep.ByFeature))
	for feature, cost := range rep.ByFeature {
		stat := FeatureStat{
			Feature:   feature,
			TotalCost: cost,
		}
		if rep.TotalCost > 0 {
			stat.RequestCount = int64(math.Round(cost / rep.TotalCost * float64(rep.RequestCount)))
			stat.PercentOfTotal = cost / rep.TotalCost * 100
		}
		if stat.RequestCount > 0 {
			stat.AverageCostPerRequest = stat.TotalCost / float64(stat.RequestCount)
		}
		stats = append(stats, stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalCost != stats[j].TotalCost {
			return stats[i].TotalCost > stats[j].TotalCost
		}
		return stats[i].Feature < stats[j].Feature
	})

	return stats, nil
}

// GetMostExpensiveFeature returns the feature with the highest cost over the
// last-N-days window, or "" when there is no data.
func (r *Reporter) GetMostExpensiveFeature(ctx context.Context, days int) (string, error) {
	stats, err := r.GetFeatureComparison(ctx, days)
	if err != nil {
		return "", err
	}
	if len(stats) == 0 {
		return "", nil
	}
	return stats[0].Feature, nil
}

func (r *Reporter) today() time.Time {
	return r.now().In(r.loc)
}

func (r *Reporter) dateString(t time.Time) string {
	return t.Format(tracking.DateFormat)
}

package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/staslianx/balli-sub011/internal/pricing"
)

// TokenUsage describes one text-model call to be recorded.
type TokenUsage struct {
	Feature      Feature
	Model        string
	InputTokens  int64
	OutputTokens int64
	UserID       string
	Metadata     map[string]string
}

// ImageUsage describes one image-generation call to be recorded.
// A Count of zero is treated as one image.
type ImageUsage struct {
	Feature  Feature
	Model    string
	Count    int
	UserID   string
	Metadata map[string]string
}

// Recorder writes usage events and daily summary increments.
//
// Both Log methods return nothing: a store outage, an exhausted transaction
// retry or a serialization error is logged and swallowed. Cost tracking sits
// next to user-facing request paths and must never make them fail or retry
// because accounting did.
type Recorder struct {
	store  Store
	calc   *pricing.Calculator
	logger zerolog.Logger
	tracer trace.Tracer
	loc    *time.Location
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLocation sets the timezone used to derive the summary date from the
// event timestamp. Defaults to time.Local.
func WithLocation(loc *time.Location) RecorderOption {
	return func(r *Recorder) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(store Store, calc *pricing.Calculator, logger zerolog.Logger, tracer trace.Tracer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		calc:   calc,
		logger: logger.With().Str("component", "usage_recorder").Logger(),
		tracer: tracer,
		loc:    time.Local,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LogTokenUsage records one text-model call: computes the cost, appends the
// immutable event and folds the cost into today's summary.
func (r *Recorder) LogTokenUsage(ctx context.Context, usage TokenUsage) {
	ctx, span := r.tracer.Start(ctx, "tracking.log_token_usage")
	defer span.End()
	span.SetAttributes(
		attribute.String("feature", string(usage.Feature)),
		attribute.String("model", usage.Model),
		attribute.Int64("input_tokens", usage.InputTokens),
		attribute.Int64("output_tokens", usage.OutputTokens),
	)

	cost := r.calc.TokenCost(usage.Model, usage.InputTokens, usage.OutputTokens)

	r.record(ctx, &UsageEvent{
		Feature:      usage.Feature,
		Model:        usage.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		UserID:       usage.UserID,
		Metadata:     usage.Metadata,
	})
}

// LogImageUsage records one image-generation call.
func (r *Recorder) LogImageUsage(ctx context.Context, usage ImageUsage) {
	ctx, span := r.tracer.Start(ctx, "tracking.log_image_usage")
	defer span.End()

	count := usage.Count
	if count <= 0 {
		count = 1
	}
	span.SetAttributes(
		attribute.String("feature", string(usage.Feature)),
		attribute.String("model", usage.Model),
		attribute.Int("image_count", count),
	)

	cost := r.calc.ImageCost(usage.Model, count)

	r.record(ctx, &UsageEvent{
		Feature:    usage.Feature,
		Model:      usage.Model,
		ImageCount: count,
		CostUSD:    cost,
		UserID:     usage.UserID,
		Metadata:   usage.Metadata,
	})
}

func (r *Recorder) record(ctx context.Context, event *UsageEvent) {
	event.ID = uuid.New().String()
	event.CreatedAt = r.now()

	// The event append and the summary increment are independent writes.
	// A failed append must not prevent the summary update, and vice versa.
	if err := r.store.AppendEvent(ctx, event); err != nil {
		r.logger.Error().Err(err).
			Str("feature", string(event.Feature)).
			Str("model", event.Model).
			Msg("failed to append usage event")
	}

	// The summary date always comes from the recorder's clock, never from
	// caller-supplied timestamps.
	date := event.CreatedAt.In(r.loc).Format(DateFormat)
	if err := r.store.ApplyUsage(ctx, date, event.Feature, event.Model, event.CostUSD, event.CreatedAt); err != nil {
		r.logger.Error().Err(err).
			Str("date", date).
			Str("feature", string(event.Feature)).
			Str("model", event.Model).
			Float64("cost_usd", event.CostUSD).
			Msg("failed to update daily summary")
	}
}

package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/staslianx/balli-sub011/internal/pricing"
)

// Mock store with pluggable behavior
type mockStore struct {
	appendEventFunc      func(ctx context.Context, event *UsageEvent) error
	applyUsageFunc       func(ctx context.Context, date string, feature Feature, model string, cost float64, now time.Time) error
	summariesInRangeFunc func(ctx context.Context, startDate, endDate string) ([]*DailySummary, error)
	eventsBetweenFunc    func(ctx context.Context, from, to time.Time, limit int) ([]*UsageEvent, error)
}

func (m *mockStore) AppendEvent(ctx context.Context, event *UsageEvent) error {
	if m.appendEventFunc != nil {
		return m.appendEventFunc(ctx, event)
	}
	return nil
}

func (m *mockStore) ApplyUsage(ctx context.Context, date string, feature Feature, model string, cost float64, now time.Time) error {
	if m.applyUsageFunc != nil {
		return m.applyUsageFunc(ctx, date, feature, model, cost, now)
	}
	return nil
}

func (m *mockStore) SummariesInRange(ctx context.Context, startDate, endDate string) ([]*DailySummary, error) {
	if m.summariesInRangeFunc != nil {
		return m.summariesInRangeFunc(ctx, startDate, endDate)
	}
	return nil, nil
}

func (m *mockStore) EventsBetween(ctx context.Context, from, to time.Time, limit int) ([]*UsageEvent, error) {
	if m.eventsBetweenFunc != nil {
		return m.eventsBetweenFunc(ctx, from, to, limit)
	}
	return nil, nil
}

// In-memory store applying summary increments under a mutex, for
// concurrency tests.
type memStore struct {
	mu        sync.Mutex
	events    []*UsageEvent
	summaries map[string]*DailySummary
}

func newMemStore() *memStore {
	return &memStore{summaries: make(map[string]*DailySummary)}
}

func (m *memStore) AppendEvent(ctx context.Context, event *UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.events = append(m.events, &copied)
	return nil
}

func (m *memStore) ApplyUsage(ctx context.Context, date string, feature Feature, model string, cost float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.summaries[date]
	if !ok {
		sum = &DailySummary{
			Date:      date,
			ByFeature: make(map[string]float64),
			ByModel:   make(map[string]float64),
		}
		m.summaries[date] = sum
	}
	sum.TotalCost += cost
	sum.ByFeature[string(feature)] += cost
	sum.ByModel[model] += cost
	sum.RequestCount++
	sum.LastUpdated = now
	return nil
}

func (m *memStore) SummariesInRange(ctx context.Context, startDate, endDate string) ([]*DailySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DailySummary
	for date, sum := range m.summaries {
		if date >= startDate && date <= endDate {
			out = append(out, sum)
		}
	}
	return out, nil
}

func (m *memStore) EventsBetween(ctx context.Context, from, to time.Time, limit int) ([]*UsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*UsageEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestRecorder(store Store, opts ...RecorderOption) *Recorder {
	calc := pricing.NewCalculator(zerolog.Nop())
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewRecorder(store, calc, zerolog.Nop(), tracer, opts...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLogTokenUsage_WritesEventAndSummary(t *testing.T) {
	now := time.Date(2024, 11, 5, 14, 30, 0, 0, time.UTC)
	var gotEvent *UsageEvent
	var gotDate string
	var gotCost float64

	store := &mockStore{
		appendEventFunc: func(ctx context.Context, event *UsageEvent) error {
			gotEvent = event
			return nil
		},
		applyUsageFunc: func(ctx context.Context, date string, feature Feature, model string, cost float64, ts time.Time) error {
			gotDate = date
			gotCost = cost
			return nil
		},
	}

	r := newTestRecorder(store, WithClock(fixedClock(now)), WithLocation(time.UTC))
	r.LogTokenUsage(context.Background(), TokenUsage{
		Feature:      FeatureNutritionCalculation,
		Model:        "gemini-2.0-flash",
		InputTokens:  1_000_000,
		OutputTokens: 0,
		UserID:       "user-1",
	})

	if gotEvent == nil {
		t.Fatal("expected an event append")
	}
	if gotEvent.ID == "" {
		t.Error("expected a generated event ID")
	}
	if !gotEvent.CreatedAt.Equal(now) {
		t.Errorf("event timestamp = %v, want %v", gotEvent.CreatedAt, now)
	}
	if gotEvent.CostUSD != 0.10 {
		t.Errorf("event cost = %v, want 0.10", gotEvent.CostUSD)
	}
	if gotDate != "2024-11-05" {
		t.Errorf("summary date = %q, want 2024-11-05", gotDate)
	}
	if gotCost != gotEvent.CostUSD {
		t.Errorf("summary increment %v differs from event cost %v", gotCost, gotEvent.CostUSD)
	}
}

func TestLogImageUsage_DefaultsToOneImage(t *testing.T) {
	var gotEvent *UsageEvent
	store := &mockStore{
		appendEventFunc: func(ctx context.Context, event *UsageEvent) error {
			gotEvent = event
			return nil
		},
	}

	r := newTestRecorder(store)
	r.LogImageUsage(context.Background(), ImageUsage{
		Feature: FeatureImageGeneration,
		Model:   "dall-e-3",
	})

	if gotEvent == nil {
		t.Fatal("expected an event append")
	}
	if gotEvent.ImageCount != 1 {
		t.Errorf("image count = %d, want 1", gotEvent.ImageCount)
	}
	if gotEvent.CostUSD != 0.040 {
		t.Errorf("cost = %v, want 0.040", gotEvent.CostUSD)
	}
}

func TestLogTokenUsage_SwallowsStoreFailures(t *testing.T) {
	boom := errors.New("store unavailable")
	applied := false
	store := &mockStore{
		appendEventFunc: func(ctx context.Context, event *UsageEvent) error {
			return boom
		},
		applyUsageFunc: func(ctx context.Context, date string, feature Feature, model string, cost float64, ts time.Time) error {
			applied = true
			return boom
		},
	}

	r := newTestRecorder(store)
	// Must return normally with every write failing.
	r.LogTokenUsage(context.Background(), TokenUsage{
		Feature: FeatureChatAssistant,
		Model:   "gpt-4o",
	})

	if !applied {
		t.Error("summary update should still be attempted after a failed event append")
	}
}

func TestLogTokenUsage_ConcurrentIncrementsCompose(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)
	r := newTestRecorder(store, WithClock(fixedClock(now)), WithLocation(time.UTC))

	const k = 50
	// 10k input tokens of gemini-2.0-flash: a known, nonzero cost.
	perCallCost := 0.10 * 10_000 / 1_000_000

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.LogTokenUsage(context.Background(), TokenUsage{
				Feature:     FeatureResearchDeep,
				Model:       "gemini-2.0-flash",
				InputTokens: 10_000,
			})
		}()
	}
	wg.Wait()

	sum := store.summaries["2024-11-05"]
	if sum == nil {
		t.Fatal("expected a summary for 2024-11-05")
	}
	if sum.RequestCount != k {
		t.Errorf("request count = %d, want %d", sum.RequestCount, k)
	}
	if math.Abs(sum.TotalCost-float64(k)*perCallCost) > 1e-9 {
		t.Errorf("total cost = %v, want %v", sum.TotalCost, float64(k)*perCallCost)
	}

	// Additivity invariant: total equals both breakdown sums.
	var featureSum, modelSum float64
	for _, c := range sum.ByFeature {
		featureSum += c
	}
	for _, c := range sum.ByModel {
		modelSum += c
	}
	if math.Abs(sum.TotalCost-featureSum) > 1e-9 {
		t.Errorf("total %v != feature sum %v", sum.TotalCost, featureSum)
	}
	if math.Abs(sum.TotalCost-modelSum) > 1e-9 {
		t.Errorf("total %v != model sum %v", sum.TotalCost, modelSum)
	}
	if len(store.events) != k {
		t.Errorf("event count = %d, want %d", len(store.events), k)
	}
}

func TestLogUsage_MixedFeaturesKeepInvariant(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC)
	r := newTestRecorder(store, WithClock(fixedClock(now)), WithLocation(time.UTC))

	ctx := context.Background()
	r.LogTokenUsage(ctx, TokenUsage{Feature: FeatureRecipeGeneration, Model: "gpt-4o", InputTokens: 2000, OutputTokens: 500})
	r.LogTokenUsage(ctx, TokenUsage{Feature: FeatureChatAssistant, Model: "claude-3-5-haiku", InputTokens: 800, OutputTokens: 300})
	r.LogImageUsage(ctx, ImageUsage{Feature: FeatureImageGeneration, Model: "dall-e-3", Count: 2})
	r.LogTokenUsage(ctx, TokenUsage{Feature: FeatureChatAssistant, Model: "gpt-4o", InputTokens: 100, OutputTokens: 50})

	sum := store.summaries["2024-11-06"]
	if sum == nil {
		t.Fatal("expected a summary for 2024-11-06")
	}
	if sum.RequestCount != 4 {
		t.Errorf("request count = %d, want 4", sum.RequestCount)
	}

	var featureSum, modelSum float64
	for _, c := range sum.ByFeature {
		featureSum += c
	}
	for _, c := range sum.ByModel {
		modelSum += c
	}
	if math.Abs(sum.TotalCost-featureSum) > 1e-9 || math.Abs(sum.TotalCost-modelSum) > 1e-9 {
		t.Errorf("invariant broken: total=%v featureSum=%v modelSum=%v", sum.TotalCost, featureSum, modelSum)
	}
	if len(sum.ByFeature) != 3 {
		t.Errorf("expected 3 features, got %d", len(sum.ByFeature))
	}
	if len(sum.ByModel) != 3 {
		t.Errorf("expected 3 models, got %d", len(sum.ByModel))
	}
}

func TestRecord_SummaryDateUsesRecorderLocation(t *testing.T) {
	// 2024-11-05 23:30 UTC is already 2024-11-06 in UTC+2.
	now := time.Date(2024, 11, 5, 23, 30, 0, 0, time.UTC)
	loc := time.FixedZone("UTC+2", 2*60*60)

	var gotDate string
	store := &mockStore{
		applyUsageFunc: func(ctx context.Context, date string, feature Feature, model string, cost float64, ts time.Time) error {
			gotDate = date
			return nil
		},
	}

	r := newTestRecorder(store, WithClock(fixedClock(now)), WithLocation(loc))
	r.LogTokenUsage(context.Background(), TokenUsage{Feature: FeatureChatAssistant, Model: "gpt-4o-mini", InputTokens: 10})

	if gotDate != "2024-11-06" {
		t.Errorf("summary date = %q, want 2024-11-06", gotDate)
	}
}

// Package tracking records LLM API usage and folds it into per-day cost
// aggregates. Recording is a best-effort side channel: failures are logged
// and swallowed so accounting can never break the feature that produced
// the usage.
package tracking

import (
	"context"
	"time"
)

// Feature identifies the calling feature of the app for cost attribution.
type Feature string

const (
	FeatureRecipeGeneration     Feature = "recipe_generation"
	FeatureNutritionCalculation Feature = "nutrition_calculation"
	FeatureImageGeneration      Feature = "image_generation"
	FeatureChatAssistant        Feature = "chat_assistant"
	FeatureVoiceMealLogging     Feature = "voice_meal_logging"
	FeatureResearchBasic        Feature = "research_basic"
	FeatureResearchAdvanced     Feature = "research_advanced"
	FeatureResearchDeep         Feature = "research_deep"
	FeatureEmbeddingGeneration  Feature = "embedding_generation"
)

// DateFormat is the fixed-width day key used throughout the subsystem.
// Lexicographic comparison of these strings matches chronological order.
const DateFormat = "2006-01-02"

// UsageEvent is one billable API call. Events are append-only: written once
// by the recorder and never mutated or deleted by this subsystem.
type UsageEvent struct {
	ID           string            `json:"id"`
	Feature      Feature           `json:"feature"`
	Model        string            `json:"model"`
	InputTokens  int64             `json:"input_tokens"`
	OutputTokens int64             `json:"output_tokens"`
	ImageCount   int               `json:"image_count,omitempty"`
	CostUSD      float64           `json:"cost_usd"`
	UserID       string            `json:"user_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// DailySummary is the mutable per-date aggregate. It is only ever updated
// through the store's atomic increment path, so after every successful
// update TotalCost equals both the sum of ByFeature values and the sum of
// ByModel values, and RequestCount equals the number of contributing events.
type DailySummary struct {
	Date         string             `json:"date"` // YYYY-MM-DD
	TotalCost    float64            `json:"total_cost"`
	ByFeature    map[string]float64 `json:"by_feature"`
	ByModel      map[string]float64 `json:"by_model"`
	RequestCount int64              `json:"request_count"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// Store persists usage events and daily summaries.
//
// AppendEvent is an independent insert with no transaction. ApplyUsage must
// apply all of its increments atomically: concurrent calls for the same date
// compose, and a whole-row overwrite that could lose a concurrent increment
// is not an acceptable implementation.
type Store interface {
	AppendEvent(ctx context.Context, event *UsageEvent) error
	ApplyUsage(ctx context.Context, date string, feature Feature, model string, cost float64, now time.Time) error
	SummariesInRange(ctx context.Context, startDate, endDate string) ([]*DailySummary, error)
	EventsBetween(ctx context.Context, from, to time.Time, limit int) ([]*UsageEvent, error)
}

package pricing

import (
	"github.com/rs/zerolog"
)

// Calculator turns token and image counts into USD costs using the static
// price table. Unknown models cost zero and log a warning; a missing price
// must never break the request that produced the usage.
type Calculator struct {
	logger zerolog.Logger
}

func NewCalculator(logger zerolog.Logger) *Calculator {
	return &Calculator{logger: logger.With().Str("component", "cost_calculator").Logger()}
}

// TokenCost computes the USD cost of a text-model call.
// Negative token counts are clamped to zero.
func (c *Calculator) TokenCost(model string, inputTokens, outputTokens int64) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	entry, ok := Lookup(model)
	if !ok {
		c.logger.Warn().
			Str("model", model).
			Msg("no pricing entry for model, reporting zero cost")
		return 0
	}

	return float64(inputTokens)/1_000_000*entry.InputPerMTokens +
		float64(outputTokens)/1_000_000*entry.OutputPerMTokens
}

// ImageCost computes the USD cost of generating count images.
func (c *Calculator) ImageCost(model string, count int) float64 {
	if count < 0 {
		count = 0
	}

	entry, ok := LookupImage(model)
	if !ok {
		c.logger.Warn().
			Str("model", model).
			Msg("no image pricing entry for model, reporting zero cost")
		return 0
	}

	return float64(count) * entry.PerImage
}

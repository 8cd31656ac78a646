// Package pricing holds the static model price table and the cost calculator.
//
// Prices are compiled in on purpose: they change rarely relative to deploys,
// so a table update ships as a redeploy rather than runtime configuration.
package pricing

import "strings"

// Entry is the per-token pricing for a text model, in USD per million tokens.
type Entry struct {
	InputPerMTokens  float64
	OutputPerMTokens float64
}

// ImageEntry is the per-image pricing for an image generation model, in USD.
type ImageEntry struct {
	PerImage float64
}

var tokenTable = map[string]Entry{
	// Google Gemini
	"gemini-2.0-flash":      {InputPerMTokens: 0.10, OutputPerMTokens: 0.40},
	"gemini-2.0-flash-lite": {InputPerMTokens: 0.075, OutputPerMTokens: 0.30},
	"gemini-1.5-flash":      {InputPerMTokens: 0.075, OutputPerMTokens: 0.30},
	"gemini-1.5-flash-8b":   {InputPerMTokens: 0.0375, OutputPerMTokens: 0.15},
	"gemini-1.5-pro":        {InputPerMTokens: 1.25, OutputPerMTokens: 5.00},

	// OpenAI
	"gpt-4o":                 {InputPerMTokens: 2.50, OutputPerMTokens: 10.00},
	"gpt-4o-mini":            {InputPerMTokens: 0.15, OutputPerMTokens: 0.60},
	"o3-mini":                {InputPerMTokens: 1.10, OutputPerMTokens: 4.40},
	"text-embedding-3-small": {InputPerMTokens: 0.02, OutputPerMTokens: 0},
	"text-embedding-3-large": {InputPerMTokens: 0.13, OutputPerMTokens: 0},

	// Anthropic
	"claude-3-5-sonnet": {InputPerMTokens: 3.00, OutputPerMTokens: 15.00},
	"claude-3-5-haiku":  {InputPerMTokens: 0.80, OutputPerMTokens: 4.00},

	// Perplexity (research tiers)
	"sonar":           {InputPerMTokens: 1.00, OutputPerMTokens: 1.00},
	"sonar-pro":       {InputPerMTokens: 3.00, OutputPerMTokens: 15.00},
	"sonar-deep-research": {InputPerMTokens: 2.00, OutputPerMTokens: 8.00},
}

var imageTable = map[string]ImageEntry{
	"dall-e-3":         {PerImage: 0.040},
	"dall-e-2":         {PerImage: 0.020},
	"gpt-image-1":      {PerImage: 0.042},
	"imagen-3.0":       {PerImage: 0.030},
	"imagen-3.0-fast":  {PerImage: 0.020},
}

// Lookup returns the token pricing entry for a model. The second return is
// false when the model has no entry; callers decide the fallback.
func Lookup(model string) (Entry, bool) {
	e, ok := tokenTable[normalize(model)]
	return e, ok
}

// LookupImage returns the per-image pricing entry for a model.
func LookupImage(model string) (ImageEntry, bool) {
	e, ok := imageTable[normalize(model)]
	return e, ok
}

// KnownModels lists every model identifier with a token pricing entry.
func KnownModels() []string {
	models := make([]string, 0, len(tokenTable))
	for m := range tokenTable {
		models = append(models, m)
	}
	return models
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

package tracking

import (
	"encoding/json"
)

// TokenCounts holds the token usage pulled out of a raw model response.
// Estimated is true when the response carried no usage metadata and the
// output count is a character-based guess.
type TokenCounts struct {
	InputTokens  int64
	OutputTokens int64
	Estimated    bool
}

// Provider response shapes carrying usage metadata. Probed in order; the
// first shape that is present wins.
type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	// Anthropic uses these names in the same position.
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
}

type responseEnvelope struct {
	Usage         json.RawMessage `json:"usage"`
	UsageMetadata json.RawMessage `json:"usageMetadata"`

	// Output text locations, for the fallback estimate.
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Text string `json:"text"`
}

// ExtractTokenCounts pulls token usage out of a raw model response without
// requiring the caller to know which provider produced it.
//
// It tries the explicit usage field (OpenAI/Anthropic shape) first, then the
// Gemini usageMetadata shape. When neither is present it estimates output
// tokens as len(outputText)/4 rounded up and reports zero input tokens.
func (r *Recorder) ExtractTokenCounts(raw []byte) TokenCounts {
	var envelope responseEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		r.logger.Warn().Err(err).Msg("unparseable model response, reporting zero token counts")
		return TokenCounts{Estimated: true}
	}

	if len(envelope.Usage) > 0 {
		var usage openAIUsage
		if err := json.Unmarshal(envelope.Usage, &usage); err == nil {
			counts := TokenCounts{
				InputTokens:  usage.PromptTokens,
				OutputTokens: usage.CompletionTokens,
			}
			if counts.InputTokens == 0 && counts.OutputTokens == 0 {
				counts.InputTokens = usage.InputTokens
				counts.OutputTokens = usage.OutputTokens
			}
			return counts
		}
	}

	if len(envelope.UsageMetadata) > 0 {
		var usage geminiUsageMetadata
		if err := json.Unmarshal(envelope.UsageMetadata, &usage); err == nil {
			return TokenCounts{
				InputTokens:  usage.PromptTokenCount,
				OutputTokens: usage.CandidatesTokenCount,
			}
		}
	}

	text := envelope.outputText()
	r.logger.Warn().
		Int("output_chars", len(text)).
		Msg("model response has no usage metadata, estimating output tokens from text length")

	return TokenCounts{
		OutputTokens: estimateTokens(text),
		Estimated:    true,
	}
}

func (e *responseEnvelope) outputText() string {
	if len(e.Choices) > 0 {
		return e.Choices[0].Message.Content
	}
	if len(e.Candidates) > 0 {
		var text string
		for _, part := range e.Candidates[0].Content.Parts {
			text += part.Text
		}
		return text
	}
	return e.Text
}

// estimateTokens approximates a token count as one token per four
// characters, rounded up. A rough placeholder, not a tokenizer.
func estimateTokens(text string) int64 {
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

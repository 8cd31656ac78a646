package tracking

import (
	"testing"
)

func TestExtractTokenCounts(t *testing.T) {
	r := newTestRecorder(&mockStore{})

	tests := []struct {
		name       string
		raw        string
		wantInput  int64
		wantOutput int64
		wantEst    bool
	}{
		{
			name:       "openai usage shape",
			raw:        `{"usage":{"prompt_tokens":120,"completion_tokens":45},"choices":[{"message":{"content":"hi"}}]}`,
			wantInput:  120,
			wantOutput: 45,
		},
		{
			name:       "anthropic usage shape",
			raw:        `{"usage":{"input_tokens":200,"output_tokens":80}}`,
			wantInput:  200,
			wantOutput: 80,
		},
		{
			name:       "gemini usageMetadata shape",
			raw:        `{"usageMetadata":{"promptTokenCount":300,"candidatesTokenCount":150},"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`,
			wantInput:  300,
			wantOutput: 150,
		},
		{
			name:       "no usage falls back to estimate from choices text",
			raw:        `{"choices":[{"message":{"content":"abcdefgh"}}]}`,
			wantInput:  0,
			wantOutput: 2, // 8 chars / 4
			wantEst:    true,
		},
		{
			name:       "estimate rounds up",
			raw:        `{"text":"abcdefghi"}`,
			wantInput:  0,
			wantOutput: 3, // ceil(9/4)
			wantEst:    true,
		},
		{
			name:       "estimate from gemini parts",
			raw:        `{"candidates":[{"content":{"parts":[{"text":"abcd"},{"text":"efgh"}]}}]}`,
			wantInput:  0,
			wantOutput: 2,
			wantEst:    true,
		},
		{
			name:    "empty response",
			raw:     `{}`,
			wantEst: true,
		},
		{
			name:    "unparseable response",
			raw:     `not json`,
			wantEst: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ExtractTokenCounts([]byte(tt.raw))
			if got.InputTokens != tt.wantInput {
				t.Errorf("input tokens = %d, want %d", got.InputTokens, tt.wantInput)
			}
			if got.OutputTokens != tt.wantOutput {
				t.Errorf("output tokens = %d, want %d", got.OutputTokens, tt.wantOutput)
			}
			if got.Estimated != tt.wantEst {
				t.Errorf("estimated = %v, want %v", got.Estimated, tt.wantEst)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.text); got != tt.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

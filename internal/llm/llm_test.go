package llm

import (
	"testing"

	"callscan/internal/models"
)

func TestFor(t *testing.T) {
	t.Parallel()

	for _, provider := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogleAI, ProviderOpenRouter} {
		if _, err := For(provider); err != nil {
			t.Errorf("For(%q): %v", provider, err)
		}
	}
	if _, err := For("mystery"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestCost(t *testing.T) {
	t.Parallel()

	m := models.LLMModel{CostPer1MInput: 3, CostPer1MOutput: 15}

	cases := []struct {
		name      string
		tokensIn  int64
		tokensOut int64
		want      float64
	}{
		{name: "zero usage", want: 0},
		{name: "one million in", tokensIn: 1_000_000, want: 3},
		{name: "mixed", tokensIn: 500_000, tokensOut: 100_000, want: 1.5 + 1.5},
	}
	for _, tc := range cases {
		if got := Cost(m, tc.tokensIn, tc.tokensOut); got != tc.want {
			t.Errorf("%s: Cost=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestStatusErrorTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{401, false},
		{400, false},
		{404, false},
	}
	for _, tc := range cases {
		err := &StatusError{Provider: "openai", StatusCode: tc.code}
		if got := err.Transient(); got != tc.want {
			t.Errorf("Transient(%d)=%v want %v", tc.code, got, tc.want)
		}
	}
}

// Package llm dispatches prompt completions across the configured providers.
package llm

import (
	"context"
	"fmt"
	"time"

	"callscan/internal/models"
)

// Providers in the model catalogue.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogleAI   = "google_ai"
	ProviderOpenRouter = "openrouter"
)

const requestTimeout = 120 * time.Second

// Options tunes a single generation call.
type Options struct {
	MaxOutputTokens int
	Temperature     float64
}

// Result is a completed generation with its usage accounting.
type Result struct {
	Output    string
	TokensIn  int64
	TokensOut int64
}

// Provider generates text for a prompt and input document.
type Provider interface {
	Generate(ctx context.Context, model, apiKey, prompt, input string, opts Options) (Result, error)
}

// For returns the provider implementation for a catalogue entry.
func For(provider string) (Provider, error) {
	switch provider {
	case ProviderOpenAI:
		return &openAIClient{baseURL: "https://api.openai.com/v1"}, nil
	case ProviderOpenRouter:
		// OpenRouter speaks the OpenAI chat completions dialect.
		return &openAIClient{baseURL: "https://openrouter.ai/api/v1"}, nil
	case ProviderAnthropic:
		return &anthropicClient{}, nil
	case ProviderGoogleAI:
		return &googleAIClient{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// Generate runs one completion against the catalogue model and prices it.
func Generate(ctx context.Context, m models.LLMModel, prompt, input string, opts Options) (Result, float64, error) {
	p, err := For(m.Provider)
	if err != nil {
		return Result{}, 0, err
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = m.MaxOutputTokens
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := p.Generate(ctx, m.ModelID, m.APIKey, prompt, input, opts)
	if err != nil {
		return Result{}, 0, err
	}
	return res, Cost(m, res.TokensIn, res.TokensOut), nil
}

// Cost prices a generation from the catalogue's per-million-token rates.
func Cost(m models.LLMModel, tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)/1e6*m.CostPer1MInput + float64(tokensOut)/1e6*m.CostPer1MOutput
}

// StatusError wraps a provider HTTP failure so callers can classify it.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: rate limits and
// server-side errors are, auth and bad-request errors are not.
func (e *StatusError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// openAIClient speaks the chat completions API, shared by OpenAI and
// OpenRouter.
type openAIClient struct {
	baseURL string
}

func (c *openAIClient) Generate(ctx context.Context, model, apiKey, prompt, input string, opts Options) (Result, error) {
	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": input},
		},
		"max_tokens": opts.MaxOutputTokens,
	}
	if opts.Temperature > 0 {
		body["temperature"] = opts.Temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Body: truncate(raw)}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Result{}, fmt.Errorf("openai response has no choices")
	}

	return Result{
		Output:    out.Choices[0].Message.Content,
		TokensIn:  out.Usage.PromptTokens,
		TokensOut: out.Usage.CompletionTokens,
	}, nil
}

func truncate(raw []byte) string {
	const max = 500
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}

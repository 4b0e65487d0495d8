// Package oracle wraps the external transcript availability service.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Outcome classes for a transcript check.
const (
	OutcomeAvailable = "available"
	OutcomeUpcoming  = "upcoming"
	OutcomeNone      = "none"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

// CheckResult is one oracle observation for an equity and quarter.
type CheckResult struct {
	Outcome   string
	SourceURL string
	EventDate *time.Time
	// RateLimited marks results produced from a 429 response.
	RateLimited bool
	Err         error
}

// Transient reports whether the check should be retried.
func (r CheckResult) Transient() bool { return r.Outcome == OutcomeTransient }

// Client queries the oracle over HTTP with an adaptive rate limit.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *AdaptiveLimiter
}

func NewClient(baseURL string, qps float64) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: NewAdaptiveLimiter(qps),
	}
}

// Limiter exposes the adaptive limiter for status reporting.
func (c *Client) Limiter() *AdaptiveLimiter { return c.limiter }

// CheckTranscript asks the oracle whether a transcript exists for the symbol
// and quarter. Network errors, 429s, and 5xx responses classify as transient;
// other 4xx responses are permanent.
func (c *Client) CheckTranscript(ctx context.Context, symbol, quarter string, year int) CheckResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return CheckResult{Outcome: OutcomeTransient, Err: err}
	}

	u := fmt.Sprintf("%s/v1/transcripts?symbol=%s&quarter=%s&year=%d",
		c.baseURL, url.QueryEscape(symbol), url.QueryEscape(quarter), year)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return CheckResult{Outcome: OutcomePermanent, Err: err}
	}
	req.Header.Set("User-Agent", "callscan/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{Outcome: OutcomeTransient, Err: fmt.Errorf("oracle request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.OnRateLimited()
		return CheckResult{
			Outcome:     OutcomeTransient,
			RateLimited: true,
			Err:         fmt.Errorf("oracle rate limited: %s", resp.Status),
		}
	case resp.StatusCode >= 500:
		return CheckResult{Outcome: OutcomeTransient, Err: fmt.Errorf("oracle status: %s", resp.Status)}
	case resp.StatusCode == http.StatusNotFound:
		// The oracle reports unknown symbols and absent quarters the same
		// way; treat both as no transcript yet.
		c.limiter.OnSuccess()
		return CheckResult{Outcome: OutcomeNone}
	case resp.StatusCode >= 400:
		return CheckResult{Outcome: OutcomePermanent, Err: fmt.Errorf("oracle status: %s", resp.Status)}
	}

	var body struct {
		Status    string `json:"status"`
		URL       string `json:"url"`
		EventDate string `json:"event_date"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CheckResult{Outcome: OutcomeTransient, Err: fmt.Errorf("decode oracle response: %w", err)}
	}
	c.limiter.OnSuccess()

	var eventDate *time.Time
	if body.EventDate != "" {
		if t, err := time.Parse(time.RFC3339, body.EventDate); err == nil {
			eventDate = &t
		} else if t, err := time.Parse("2006-01-02", body.EventDate); err == nil {
			eventDate = &t
		}
	}

	switch body.Status {
	case "available":
		if body.URL == "" {
			return CheckResult{Outcome: OutcomePermanent, Err: fmt.Errorf("oracle reported available without url")}
		}
		return CheckResult{Outcome: OutcomeAvailable, SourceURL: body.URL, EventDate: eventDate}
	case "upcoming":
		return CheckResult{Outcome: OutcomeUpcoming, EventDate: eventDate}
	case "none", "":
		return CheckResult{Outcome: OutcomeNone}
	default:
		return CheckResult{Outcome: OutcomePermanent, Err: fmt.Errorf("oracle reported unknown status %q", body.Status)}
	}
}

// FetchContent downloads a transcript body from its source URL.
func (c *Client) FetchContent(ctx context.Context, sourceURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "callscan/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.OnRateLimited()
		return nil, fmt.Errorf("transcript fetch rate limited: %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transcript fetch status: %s", resp.Status)
	}
	c.limiter.OnSuccess()

	const maxBody = 16 << 20
	return readAllLimited(resp.Body, maxBody)
}

package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckTranscriptClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		status      int
		body        string
		wantOutcome string
		wantURL     string
	}{
		{
			name:        "available with url",
			status:      200,
			body:        `{"status":"available","url":"https://oracle.example/t/1.html"}`,
			wantOutcome: OutcomeAvailable,
			wantURL:     "https://oracle.example/t/1.html",
		},
		{
			name:        "upcoming with date",
			status:      200,
			body:        `{"status":"upcoming","event_date":"2026-09-10"}`,
			wantOutcome: OutcomeUpcoming,
		},
		{
			name:        "none",
			status:      200,
			body:        `{"status":"none"}`,
			wantOutcome: OutcomeNone,
		},
		{
			name:        "empty status means none",
			status:      200,
			body:        `{}`,
			wantOutcome: OutcomeNone,
		},
		{
			name:        "not found means none",
			status:      404,
			body:        `{"error":"unknown symbol"}`,
			wantOutcome: OutcomeNone,
		},
		{
			name:        "server error is transient",
			status:      503,
			body:        `oops`,
			wantOutcome: OutcomeTransient,
		},
		{
			name:        "rate limit is transient",
			status:      429,
			body:        ``,
			wantOutcome: OutcomeTransient,
		},
		{
			name:        "bad request is permanent",
			status:      400,
			body:        `{"error":"bad quarter"}`,
			wantOutcome: OutcomePermanent,
		},
		{
			name:        "available without url is permanent",
			status:      200,
			body:        `{"status":"available"}`,
			wantOutcome: OutcomePermanent,
		},
		{
			name:        "unknown status is permanent",
			status:      200,
			body:        `{"status":"maybe"}`,
			wantOutcome: OutcomePermanent,
		},
		{
			name:        "garbage body is transient",
			status:      200,
			body:        `{not json`,
			wantOutcome: OutcomeTransient,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("symbol"); got != "ACME" {
					t.Errorf("symbol=%q want ACME", got)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, 100)
			res := c.CheckTranscript(context.Background(), "ACME", "Q2", 2026)
			if res.Outcome != tc.wantOutcome {
				t.Fatalf("outcome=%q want %q (err=%v)", res.Outcome, tc.wantOutcome, res.Err)
			}
			if res.SourceURL != tc.wantURL {
				t.Fatalf("url=%q want %q", res.SourceURL, tc.wantURL)
			}
		})
	}
}

func TestCheckTranscriptRateLimitedFlag(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 8)
	res := c.CheckTranscript(context.Background(), "ACME", "Q1", 2026)
	if !res.RateLimited {
		t.Fatal("expected RateLimited on 429")
	}
	if got := c.Limiter().CurrentQPS(); got != 4 {
		t.Fatalf("qps after 429 = %v, want 4", got)
	}
}

func TestAdaptiveLimiterHalveAndRecover(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveLimiter(16)

	l.OnRateLimited()
	if got := l.CurrentQPS(); got != 8 {
		t.Fatalf("after one 429: qps=%v want 8", got)
	}
	l.OnRateLimited()
	if got := l.CurrentQPS(); got != 4 {
		t.Fatalf("after two 429s: qps=%v want 4", got)
	}

	// Floor at ceiling/16.
	for i := 0; i < 10; i++ {
		l.OnRateLimited()
	}
	if got := l.CurrentQPS(); got != 1 {
		t.Fatalf("floored qps=%v want 1", got)
	}

	// One success streak doubles; repeated streaks climb back to the cap.
	for i := 0; i < recoveryStreak; i++ {
		l.OnSuccess()
	}
	if got := l.CurrentQPS(); got != 2 {
		t.Fatalf("after recovery streak: qps=%v want 2", got)
	}
	for i := 0; i < 10*recoveryStreak; i++ {
		l.OnSuccess()
	}
	if got := l.CurrentQPS(); got != 16 {
		t.Fatalf("recovered qps=%v want 16", got)
	}

	// Further success at the ceiling is a no-op.
	l.OnSuccess()
	if got := l.CurrentQPS(); got != 16 {
		t.Fatalf("qps at ceiling=%v want 16", got)
	}
}

package email

import (
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"callscan/internal/models"
)

func TestPermanent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "mailbox unavailable", err: &textproto.Error{Code: 550, Msg: "no such user"}, want: true},
		{name: "policy rejection", err: &textproto.Error{Code: 554, Msg: "rejected"}, want: true},
		{name: "temporary failure", err: &textproto.Error{Code: 421, Msg: "try again"}, want: false},
		{name: "greylisted", err: &textproto.Error{Code: 451, Msg: "greylisted"}, want: false},
		{name: "wrapped hard bounce", err: fmt.Errorf("smtp rcpt to: %w", &textproto.Error{Code: 550, Msg: "no"}), want: true},
		{name: "network error", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Permanent(tc.err); got != tc.want {
				t.Fatalf("Permanent=%v want %v", got, tc.want)
			}
		})
	}
}

func TestFailureStatus(t *testing.T) {
	t.Parallel()

	hardBounce := &textproto.Error{Code: 550, Msg: "no such user"}
	greylist := &textproto.Error{Code: 451, Msg: "greylisted"}
	network := errors.New("connection refused")

	cases := []struct {
		name     string
		err      error
		attempts int
		want     string
	}{
		{name: "hard bounce is failed", err: hardBounce, attempts: 1, want: models.OutboxFailed},
		{name: "hard bounce stays failed at the cap", err: hardBounce, attempts: 8, want: models.OutboxFailed},
		{name: "greylist retries", err: greylist, attempts: 1, want: models.OutboxPending},
		{name: "network error retries", err: network, attempts: 7, want: models.OutboxPending},
		{name: "greylist exhausted", err: greylist, attempts: 8, want: models.OutboxDead},
		{name: "network error exhausted", err: network, attempts: 9, want: models.OutboxDead},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := failureStatus(tc.err, tc.attempts); got != tc.want {
				t.Fatalf("failureStatus=%q want %q", got, tc.want)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	t.Parallel()

	equity := models.Equity{Symbol: "ACME"}
	transcript := models.Transcript{Quarter: "Q2", Year: 2027}
	if got := Subject(equity, transcript); got != "ACME Q2 FY2027 transcript analysis" {
		t.Fatalf("Subject=%q", got)
	}

	// Falls back to the alt code when the symbol is missing.
	equity = models.Equity{AltCode: "1234"}
	if got := Subject(equity, transcript); got != "1234 Q2 FY2027 transcript analysis" {
		t.Fatalf("Subject=%q", got)
	}
}

func TestRenderAnalysis(t *testing.T) {
	t.Parallel()

	url := "https://oracle.example/t/7.html"
	equity := models.Equity{Symbol: "ACME", Name: "Acme & Co"}
	transcript := models.Transcript{Quarter: "Q1", Year: 2027, SourceURL: &url}
	analysis := models.TranscriptAnalysis{
		OutputText: "Strong quarter.\n\nGuidance <raised>.",
		ModelRef:   "anthropic/claude-x",
		TokensIn:   1000,
		TokensOut:  200,
		CreatedAt:  time.Now(),
	}

	body := RenderAnalysis(equity, transcript, analysis)

	for _, want := range []string{
		"Acme &amp; Co",
		"Q1 FY2027",
		url,
		"<p>Strong quarter.</p>",
		"Guidance &lt;raised&gt;.",
		"anthropic/claude-x",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "<raised>") {
		t.Error("model output must be escaped")
	}
}

func TestRenderArticle(t *testing.T) {
	t.Parallel()

	group := models.Group{Name: "Semis"}
	run := models.GroupResearchRun{Quarter: "Q3", Year: 2026, OutputText: "Sector view.", ModelRef: "openai/gpt-x"}

	body := RenderArticle(group, run)
	for _, want := range []string{"Semis", "Q3 FY2026", "<p>Sector view.</p>", "openai/gpt-x"} {
		if !strings.Contains(body, want) {
			t.Errorf("article missing %q", want)
		}
	}
}

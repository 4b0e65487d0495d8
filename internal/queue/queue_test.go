package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"callscan/internal/models"
)

func TestMaxAttempts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		queue string
		want  int
	}{
		{QueueTranscriptCheck, 5},
		{QueueAnalysisRequest, 6},
		{QueueEmailSend, 8},
		{QueueGroupResearch, 5},
		{QueueSchedulerTick, 2},
		{"unknown_queue", 5},
	}
	for _, tc := range cases {
		if got := MaxAttempts(tc.queue); got != tc.want {
			t.Errorf("MaxAttempts(%q)=%d want %d", tc.queue, got, tc.want)
		}
	}
}

// A message claimed up to the cap must dead-letter on that delivery even if
// the handler never gets to nack it, so attempts are counted at claim time
// and checked against the cap as-is.
func TestExhausted(t *testing.T) {
	t.Parallel()

	cases := []struct {
		queue    string
		attempts int
		want     bool
	}{
		{QueueAnalysisRequest, 1, false},
		{QueueAnalysisRequest, 5, false},
		{QueueAnalysisRequest, 6, true},
		{QueueAnalysisRequest, 7, true},
		{QueueSchedulerTick, 1, false},
		{QueueSchedulerTick, 2, true},
		{QueueEmailSend, 8, true},
	}
	for _, tc := range cases {
		if got := Exhausted(tc.queue, tc.attempts); got != tc.want {
			t.Errorf("Exhausted(%q, %d)=%v want %v", tc.queue, tc.attempts, got, tc.want)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	max := 30 * time.Minute

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{60, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := retryDelay(tc.attempts, base, max); got != tc.want {
			t.Errorf("retryDelay(%d)=%v want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestRetryableWrapping(t *testing.T) {
	t.Parallel()

	if Retryable(nil) != nil {
		t.Fatal("Retryable(nil) should be nil")
	}

	base := errors.New("oracle timeout")
	err := Retryable(base)

	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatal("expected RetryableError")
	}
	if !errors.Is(err, base) {
		t.Fatal("RetryableError should unwrap to the cause")
	}

	// Still detectable through further wrapping.
	wrapped := fmt.Errorf("check equity 7: %w", err)
	if !errors.As(wrapped, &re) {
		t.Fatal("expected RetryableError through wrap")
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(TranscriptCheck{ScheduleRowID: 3, EquityID: 42, Quarter: "Q2", Year: 2026})
	msg := models.QueueMessage{QueueName: QueueTranscriptCheck, Payload: payload}

	var tc TranscriptCheck
	if err := Decode(msg, &tc); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tc.EquityID != 42 || tc.Quarter != "Q2" || tc.Year != 2026 || tc.ScheduleRowID != 3 {
		t.Fatalf("unexpected payload: %+v", tc)
	}

	msg.Payload = []byte(`{bad json`)
	if err := Decode(msg, &tc); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}

package scheduler

import (
	"testing"
	"time"

	"callscan/internal/fiscal"
	"callscan/internal/models"
)

func TestNextCheckDelta(t *testing.T) {
	t.Parallel()

	// August 2026: inside Q2 FY27, so the active reporting window is Q1 FY27.
	now := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)
	active := fiscal.Quarter{Quarter: "Q1", Year: 2027}
	stale := fiscal.Quarter{Quarter: "Q3", Year: 2026}

	in6h := now.Add(6 * time.Hour)
	in3d := now.Add(3 * 24 * time.Hour)
	in20d := now.Add(20 * 24 * time.Hour)

	cases := []struct {
		name      string
		status    string
		eventDate *time.Time
		quarter   fiscal.Quarter
		priority  int
		want      time.Duration
	}{
		{name: "available", status: models.TranscriptAvailable, quarter: active, priority: models.PriorityWatchlist, want: 24 * time.Hour},
		{name: "upcoming within a day", status: models.TranscriptUpcoming, eventDate: &in6h, quarter: active, priority: models.PriorityWatchlist, want: 10 * time.Minute},
		{name: "upcoming within a week", status: models.TranscriptUpcoming, eventDate: &in3d, quarter: active, priority: models.PriorityWatchlist, want: time.Hour},
		{name: "upcoming far out", status: models.TranscriptUpcoming, eventDate: &in20d, quarter: active, priority: models.PriorityWatchlist, want: 4 * time.Hour},
		{name: "upcoming without date treated as far", status: models.TranscriptUpcoming, quarter: active, priority: models.PriorityWatchlist, want: 4 * time.Hour},
		{name: "none in active window", status: models.TranscriptNone, quarter: active, priority: models.PriorityGroupOnly, want: 4 * time.Hour},
		{name: "none outside active window", status: models.TranscriptNone, quarter: stale, priority: models.PriorityGroupOnly, want: 24 * time.Hour},
		{name: "retired lane overrides status", status: models.TranscriptNone, quarter: stale, priority: models.PriorityRetired, want: 7 * 24 * time.Hour},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := NextCheckDelta(tc.status, tc.eventDate, tc.quarter, tc.priority, now)
			if got != tc.want {
				t.Fatalf("delta=%v want %v", got, tc.want)
			}
		})
	}
}

func TestNextCheckAtJitterBounds(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)
	active := fiscal.Quarter{Quarter: "Q1", Year: 2027}

	// Standard statuses jitter in [delta, 1.2*delta].
	for i := 0; i < 100; i++ {
		at := NextCheckAt(models.TranscriptAvailable, nil, active, models.PriorityWatchlist, now)
		lo := now.Add(24 * time.Hour)
		hi := now.Add(time.Duration(1.2 * float64(24*time.Hour)))
		if at.Before(lo) || at.After(hi) {
			t.Fatalf("available next check %v outside [%v, %v]", at, lo, hi)
		}
	}

	// none in the active window spreads over 4-6 hours.
	for i := 0; i < 100; i++ {
		at := NextCheckAt(models.TranscriptNone, nil, active, models.PriorityWatchlist, now)
		lo := now.Add(4 * time.Hour)
		hi := now.Add(6 * time.Hour)
		if at.Before(lo) || at.After(hi) {
			t.Fatalf("none next check %v outside [%v, %v]", at, lo, hi)
		}
	}
}

func TestErrorBackoffAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{3, 4 * time.Minute},
		{7, time.Hour},
		{50, time.Hour},
	}
	for _, tc := range cases {
		got := ErrorBackoffAt(tc.attempts, now).Sub(now)
		if got != tc.want {
			t.Errorf("ErrorBackoffAt(%d)=%v want %v", tc.attempts, got, tc.want)
		}
	}
}

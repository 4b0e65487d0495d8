package scheduler

import (
	"time"

	"callscan/internal/fiscal"
	"callscan/internal/models"
	"callscan/internal/retry"
)

// Cadence deltas per observed status.
const (
	deltaAvailable       = 24 * time.Hour
	deltaUpcomingSoon    = 10 * time.Minute
	deltaUpcomingWeek    = time.Hour
	deltaUpcomingFar     = 4 * time.Hour
	deltaNoneActive      = 4 * time.Hour
	deltaNoneInactive    = 24 * time.Hour
	deltaRetired         = 7 * 24 * time.Hour
	errorBackoffBase     = 30 * time.Second
	errorBackoffMax      = time.Hour
	jitterFrac           = 0.2
	// none in an active quarter jitters up to half the delta, giving the
	// 4-6 hour spread.
	noneActiveJitterFrac = 0.5
)

// NextCheckDelta computes the raw delta before jitter for a completed poll.
// status is the observed transcript status; eventDate applies to upcoming.
func NextCheckDelta(status string, eventDate *time.Time, q fiscal.Quarter, priority int, now time.Time) time.Duration {
	if priority >= models.PriorityRetired {
		return deltaRetired
	}

	switch status {
	case models.TranscriptAvailable:
		return deltaAvailable
	case models.TranscriptUpcoming:
		if eventDate == nil {
			return deltaUpcomingFar
		}
		until := eventDate.Sub(now)
		switch {
		case until <= 24*time.Hour:
			return deltaUpcomingSoon
		case until <= 7*24*time.Hour:
			return deltaUpcomingWeek
		default:
			return deltaUpcomingFar
		}
	default: // none
		if fiscal.InActiveWindow(q, now) {
			return deltaNoneActive
		}
		return deltaNoneInactive
	}
}

// NextCheckAt applies jitter to the delta and returns the absolute time.
func NextCheckAt(status string, eventDate *time.Time, q fiscal.Quarter, priority int, now time.Time) time.Time {
	delta := NextCheckDelta(status, eventDate, q, priority, now)

	frac := jitterFrac
	if status == models.TranscriptNone && priority < models.PriorityRetired && fiscal.InActiveWindow(q, now) {
		frac = noneActiveJitterFrac
	}
	return now.Add(retry.Jitter(delta, frac))
}

// ErrorBackoffAt returns the next check time after a transient poll failure.
// attempts counts failures already recorded.
func ErrorBackoffAt(attempts int, now time.Time) time.Time {
	return now.Add(retry.Backoff(attempts, errorBackoffBase, errorBackoffMax))
}

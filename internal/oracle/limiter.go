package oracle

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a token bucket whose rate halves on every 429 and
// doubles back after sustained success, capped at the configured ceiling.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ceiling float64
	current float64
	// successes since the last rate change; the rate doubles after a
	// window of clean responses.
	streak int
}

const recoveryStreak = 20

func NewAdaptiveLimiter(qps float64) *AdaptiveLimiter {
	if qps <= 0 {
		qps = 1
	}
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(rate.Limit(qps), burstFor(qps)),
		ceiling: qps,
		current: qps,
	}
}

func burstFor(qps float64) int {
	b := int(qps)
	if b < 1 {
		b = 1
	}
	return b
}

// Wait blocks until a token is available or ctx expires.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// OnRateLimited halves the rate, flooring at 1/16 of the ceiling.
func (l *AdaptiveLimiter) OnRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.current / 2
	if floor := l.ceiling / 16; next < floor {
		next = floor
	}
	l.setRate(next)
}

// OnSuccess counts a clean response; after a streak the rate doubles back
// toward the ceiling.
func (l *AdaptiveLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.ceiling {
		return
	}
	l.streak++
	if l.streak < recoveryStreak {
		return
	}
	next := l.current * 2
	if next > l.ceiling {
		next = l.ceiling
	}
	l.setRate(next)
}

// CurrentQPS returns the rate currently in effect.
func (l *AdaptiveLimiter) CurrentQPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// setRate swaps the limiter; callers hold mu.
func (l *AdaptiveLimiter) setRate(qps float64) {
	l.current = qps
	l.streak = 0
	l.limiter = rate.NewLimiter(rate.Limit(qps), burstFor(qps))
}

func readAllLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("transcript body exceeds %d bytes", max)
	}
	return data, nil
}

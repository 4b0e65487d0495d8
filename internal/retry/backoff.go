// Package retry holds the shared backoff policy used by every worker pool.
package retry

import (
	"math/rand"
	"time"
)

// Backoff returns min(2^attempts * base, max). attempts is the number of
// failures already recorded; attempts <= 0 yields base.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts <= 0 {
		return base
	}
	// Cap the shift so large attempt counts don't overflow.
	if attempts > 30 {
		attempts = 30
	}
	d := base << uint(attempts)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Jitter adds a uniform random offset in [0, frac*d] to d.
// frac is clamped to [0, 1].
func Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	span := time.Duration(float64(d) * frac)
	if span <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(span)+1))
}

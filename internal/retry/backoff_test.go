package retry

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	max := time.Hour

	cases := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{name: "zero attempts", attempts: 0, want: base},
		{name: "negative attempts", attempts: -3, want: base},
		{name: "one", attempts: 1, want: time.Minute},
		{name: "two", attempts: 2, want: 2 * time.Minute},
		{name: "five", attempts: 5, want: 16 * time.Minute},
		{name: "clamped", attempts: 8, want: max},
		{name: "huge attempts do not overflow", attempts: 500, want: max},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Backoff(tc.attempts, base, max)
			if got != tc.want {
				t.Fatalf("Backoff(%d)=%v want %v", tc.attempts, got, tc.want)
			}
		})
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	d := 4 * time.Hour
	for i := 0; i < 200; i++ {
		got := Jitter(d, 0.2)
		if got < d || got > d+time.Duration(float64(d)*0.2) {
			t.Fatalf("Jitter out of bounds: %v", got)
		}
	}
}

func TestJitterZeroFrac(t *testing.T) {
	t.Parallel()

	d := time.Minute
	if got := Jitter(d, 0); got != d {
		t.Fatalf("Jitter(d, 0)=%v want %v", got, d)
	}
}

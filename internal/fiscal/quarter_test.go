package fiscal

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want Quarter
	}{
		{name: "april starts Q1", now: date(2026, time.April, 1), want: Quarter{"Q1", 2027}},
		{name: "june ends Q1", now: date(2026, time.June, 30), want: Quarter{"Q1", 2027}},
		{name: "july starts Q2", now: date(2026, time.July, 1), want: Quarter{"Q2", 2027}},
		{name: "october starts Q3", now: date(2026, time.October, 15), want: Quarter{"Q3", 2027}},
		{name: "january is Q4 of same FY", now: date(2026, time.January, 10), want: Quarter{"Q4", 2026}},
		{name: "march ends Q4", now: date(2026, time.March, 31), want: Quarter{"Q4", 2026}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Current(tc.now)
			if got != tc.want {
				t.Fatalf("Current(%s)=%v want %v", tc.now.Format("2006-01-02"), got, tc.want)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want Quarter
	}{
		{name: "january reports Q3", now: date(2026, time.January, 10), want: Quarter{"Q3", 2026}},
		{name: "april reports Q4 of previous FY", now: date(2026, time.April, 10), want: Quarter{"Q4", 2026}},
		{name: "august reports Q1", now: date(2026, time.August, 10), want: Quarter{"Q1", 2027}},
		{name: "november reports Q2", now: date(2026, time.November, 10), want: Quarter{"Q2", 2027}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Latest(tc.now)
			if got != tc.want {
				t.Fatalf("Latest(%s)=%v want %v", tc.now.Format("2006-01-02"), got, tc.want)
			}
		})
	}
}

func TestPreviousNextRoundTrip(t *testing.T) {
	t.Parallel()

	quarters := []Quarter{{"Q1", 2027}, {"Q2", 2027}, {"Q3", 2027}, {"Q4", 2026}}
	for _, q := range quarters {
		if got := Next(Previous(q)); got != q {
			t.Fatalf("Next(Previous(%v))=%v", q, got)
		}
		if got := Previous(Next(q)); got != q {
			t.Fatalf("Previous(Next(%v))=%v", q, got)
		}
	}
}

func TestInActiveWindow(t *testing.T) {
	t.Parallel()

	now := date(2026, time.January, 10) // reporting Q3 FY26
	if !InActiveWindow(Quarter{"Q3", 2026}, now) {
		t.Fatalf("Q3 FY26 should be active in January 2026")
	}
	if InActiveWindow(Quarter{"Q2", 2026}, now) {
		t.Fatalf("Q2 FY26 should not be active in January 2026")
	}
}

// Package fiscal maps calendar dates to reporting quarters. The fiscal year
// runs April through March: Apr-Jun is Q1 of FY year+1, Jan-Mar is Q4 of the
// FY matching the calendar year.
package fiscal

import (
	"fmt"
	"time"
)

// Quarter is a reporting window within a fiscal year.
type Quarter struct {
	Quarter string // "Q1".."Q4"
	Year    int    // fiscal year
}

func (q Quarter) String() string {
	return fmt.Sprintf("%s FY%d", q.Quarter, q.Year)
}

// Current returns the quarter that the given instant falls in.
func Current(now time.Time) Quarter {
	now = now.UTC()
	month := now.Month()
	year := now.Year()

	switch {
	case month >= time.April && month <= time.June:
		return Quarter{"Q1", year + 1}
	case month >= time.July && month <= time.September:
		return Quarter{"Q2", year + 1}
	case month >= time.October && month <= time.December:
		return Quarter{"Q3", year + 1}
	default: // Jan-Mar
		return Quarter{"Q4", year}
	}
}

// Latest returns the most recently ended quarter: the one whose earnings
// calls are being held now. For January 2026 (inside Q4 FY26) this is Q3 FY26.
func Latest(now time.Time) Quarter {
	return Previous(Current(now))
}

// Previous returns the quarter immediately before q.
func Previous(q Quarter) Quarter {
	switch q.Quarter {
	case "Q1":
		return Quarter{"Q4", q.Year - 1}
	case "Q2":
		return Quarter{"Q1", q.Year}
	case "Q3":
		return Quarter{"Q2", q.Year}
	default:
		return Quarter{"Q3", q.Year}
	}
}

// Next returns the quarter immediately after q.
func Next(q Quarter) Quarter {
	switch q.Quarter {
	case "Q1":
		return Quarter{"Q2", q.Year}
	case "Q2":
		return Quarter{"Q3", q.Year}
	case "Q3":
		return Quarter{"Q4", q.Year}
	default:
		return Quarter{"Q1", q.Year + 1}
	}
}

// InActiveWindow reports whether q is the quarter currently being reported,
// i.e. the latest ended quarter for the given instant. Schedule cadence is
// denser inside the active window.
func InActiveWindow(q Quarter, now time.Time) bool {
	return Latest(now) == q
}

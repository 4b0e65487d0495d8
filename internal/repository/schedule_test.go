package repository

import (
	"testing"

	"callscan/internal/models"
)

func TestTriggerPriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name           string
		watchlisted    bool
		reconciliation bool
		want           int
	}{
		{name: "watchlisted", watchlisted: true, want: models.PriorityWatchlist},
		{name: "group only", watchlisted: false, want: models.PriorityGroupOnly},
		{name: "backfill", watchlisted: false, reconciliation: true, want: models.PriorityReconciliation},
		{name: "watchlisted backfill", watchlisted: true, reconciliation: true, want: models.PriorityReconciliation},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := TriggerPriority(tc.watchlisted, tc.reconciliation); got != tc.want {
				t.Fatalf("TriggerPriority(%v, %v)=%d want %d", tc.watchlisted, tc.reconciliation, got, tc.want)
			}
		})
	}
}

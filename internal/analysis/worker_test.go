package analysis

import (
	"testing"

	"callscan/internal/models"
)

// A redelivered request whose reservation is stuck in_progress (the worker
// holding it died) must come back for another delivery, never ack as a no-op.
// Only a genuinely finished analysis may skip straight to the fan-out replay.
func TestLostReservationAction(t *testing.T) {
	t.Parallel()

	status := func(s string) *string { return &s }

	cases := []struct {
		name           string
		analysisStatus *string
		force          bool
		want           reservationAction
	}{
		{name: "done", analysisStatus: status(models.AnalysisDone), force: false, want: resumeFanOut},
		{name: "done but forced rerun pending", analysisStatus: status(models.AnalysisDone), force: true, want: redeliver},
		{name: "held in progress", analysisStatus: status(models.AnalysisInProgress), force: false, want: redeliver},
		{name: "held in progress forced", analysisStatus: status(models.AnalysisInProgress), force: true, want: redeliver},
		{name: "errored", analysisStatus: status(models.AnalysisError), force: false, want: redeliver},
		{name: "never analysed", analysisStatus: nil, force: false, want: redeliver},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := lostReservationAction(tc.analysisStatus, tc.force); got != tc.want {
				t.Fatalf("lostReservationAction=%v want %v", got, tc.want)
			}
		})
	}
}

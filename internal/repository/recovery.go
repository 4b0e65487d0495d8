package repository

import (
	"context"
	"time"

	"callscan/internal/models"
)

// --- Crash recovery ---
//
// Workers flip transcripts, analysis jobs, and research runs to in_progress
// before doing the work. A process killed mid-run leaves those rows stuck;
// these sweeps put them back into a claimable state once their lease or age
// says the owner is gone.

// RecoverStaleAnalysisReservations clears in_progress analysis reservations
// that have not been touched for age. Returns the number of rows cleared.
func (r *Repository) RecoverStaleAnalysisReservations(ctx context.Context, age time.Duration) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE transcripts
		SET analysis_status = NULL, updated_at = NOW()
		WHERE analysis_status = 'in_progress' AND updated_at < NOW() - $1`,
		age,
	)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// RecoverStaleAnalysisJobs moves expired in_progress jobs back to error with
// an immediate retry window and returns them so the caller can re-publish
// their requests.
func (r *Repository) RecoverStaleAnalysisJobs(ctx context.Context) ([]models.AnalysisJob, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE analysis_jobs
		SET status = 'error',
		    retry_next_at = NOW(),
		    locked_until = 'epoch',
		    last_error = 'reclaimed after worker loss',
		    updated_at = NOW()
		WHERE status = 'in_progress' AND locked_until < NOW()
		RETURNING id, transcript_id, force`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnalysisJob
	for rows.Next() {
		var j models.AnalysisJob
		if err := rows.Scan(&j.ID, &j.TranscriptID, &j.Force); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RecoverStaleResearchRuns moves in_progress runs untouched for age back to
// error and returns them so the caller can re-publish their requests.
func (r *Repository) RecoverStaleResearchRuns(ctx context.Context, age time.Duration) ([]models.GroupResearchRun, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE group_research_runs
		SET status = 'error',
		    error_message = 'reclaimed after worker loss',
		    updated_at = NOW()
		WHERE status = 'in_progress' AND updated_at < NOW() - $1
		RETURNING id, group_id, quarter, year`,
		age,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupResearchRun
	for rows.Next() {
		var run models.GroupResearchRun
		if err := rows.Scan(&run.ID, &run.GroupID, &run.Quarter, &run.Year); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

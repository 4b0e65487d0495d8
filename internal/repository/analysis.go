package repository

import (
	"context"
	"fmt"
	"time"

	"callscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// --- Analysis jobs and results ---

// CreateAnalysisJob inserts a job guarded by its idempotency key. Returns the
// job id and whether a new job was created; duplicates return the existing id.
func (r *Repository) CreateAnalysisJob(ctx context.Context, transcriptID int64, key string, force bool) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO analysis_jobs (transcript_id, idempotency_key, force)
		VALUES ($1, $2, $3)
		RETURNING id`,
		transcriptID, key, force,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !IsUniqueViolation(err) {
		return 0, false, fmt.Errorf("create analysis job: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT id FROM analysis_jobs WHERE idempotency_key = $1`, key,
	).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (r *Repository) GetAnalysisJob(ctx context.Context, id int64) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := r.db.QueryRow(ctx, `
		SELECT id, transcript_id, status, attempts, idempotency_key, force,
		       retry_next_at, locked_until, last_error, created_at, updated_at
		FROM analysis_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.TranscriptID, &j.Status, &j.Attempts, &j.IdempotencyKey, &j.Force,
		&j.RetryNextAt, &j.LockedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// StartAnalysisJob moves a pending or retryable job to in_progress under a
// lease. Returns false when the job is already terminal or held elsewhere.
func (r *Repository) StartAnalysisJob(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = 'in_progress',
		    attempts = attempts + 1,
		    locked_until = NOW() + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'error')
		  AND locked_until < NOW()
		  AND (retry_next_at IS NULL OR retry_next_at <= NOW())`,
		id, lease,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// FinishAnalysisJob marks the job done and clears its lease.
func (r *Repository) FinishAnalysisJob(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = 'done', locked_until = 'epoch', last_error = '', updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// RetryAnalysisJob records a transient failure and schedules the next attempt.
func (r *Repository) RetryAnalysisJob(ctx context.Context, id int64, retryAt time.Time, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = 'error',
		    retry_next_at = $2,
		    locked_until = 'epoch',
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1`,
		id, retryAt, lastError)
	return err
}

// DeadAnalysisJob marks a job permanently failed.
func (r *Repository) DeadAnalysisJob(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = 'dead', locked_until = 'epoch', last_error = $2, updated_at = NOW()
		WHERE id = $1`,
		id, lastError)
	return err
}

// InsertAnalysis persists a completed analysis and returns its id.
func (r *Repository) InsertAnalysis(ctx context.Context, a models.TranscriptAnalysis) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO transcript_analyses (transcript_id, prompt_snapshot, output_text, model_ref, tokens_in, tokens_out, cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.TranscriptID, a.PromptSnapshot, a.OutputText, a.ModelRef, a.TokensIn, a.TokensOut, a.Cost,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert analysis: %w", err)
	}
	return id, nil
}

// LatestAnalysis returns the newest analysis for a transcript, or nil.
func (r *Repository) LatestAnalysis(ctx context.Context, transcriptID int64) (*models.TranscriptAnalysis, error) {
	var a models.TranscriptAnalysis
	err := r.db.QueryRow(ctx, `
		SELECT id, transcript_id, prompt_snapshot, output_text, model_ref, tokens_in, tokens_out, cost, created_at
		FROM transcript_analyses
		WHERE transcript_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, transcriptID,
	).Scan(&a.ID, &a.TranscriptID, &a.PromptSnapshot, &a.OutputText, &a.ModelRef, &a.TokensIn, &a.TokensOut, &a.Cost, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// HasAnalysis reports whether at least one analysis exists for the transcript.
func (r *Repository) HasAnalysis(ctx context.Context, transcriptID int64) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx,
		`SELECT 1 FROM transcript_analyses WHERE transcript_id = $1 LIMIT 1`, transcriptID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

package repository

import (
	"context"
	"time"

	"callscan/internal/models"
)

// --- Email outbox ---

// InsertOutboxRows fans an analysis out to recipients. The (analysis_id,
// recipient) constraint makes re-fanout after a crash a no-op.
func (r *Repository) InsertOutboxRows(ctx context.Context, analysisID int64, recipients []string) (inserted int, err error) {
	for _, rcpt := range recipients {
		cmd, err := r.db.Exec(ctx, `
			INSERT INTO email_outbox (analysis_id, recipient)
			VALUES ($1, $2)
			ON CONFLICT (analysis_id, recipient) DO NOTHING`,
			analysisID, rcpt,
		)
		if err != nil {
			return inserted, err
		}
		inserted += int(cmd.RowsAffected())
	}
	return inserted, nil
}

// ClaimDueOutbox claims up to limit deliverable rows. A row is deliverable
// when pending, past its scheduled or retry time, and not leased. failed and
// dead rows are terminal and never claimed.
func (r *Repository) ClaimDueOutbox(ctx context.Context, limit int, lease time.Duration, claimant string) ([]models.OutboxRow, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE email_outbox
		SET status = 'in_progress', locked_until = NOW() + $2, locked_by = $3, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM email_outbox
			WHERE locked_until < NOW()
			  AND status = 'pending'
			  AND COALESCE(retry_next_at, scheduled_at) <= NOW()
			ORDER BY COALESCE(retry_next_at, scheduled_at) ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, analysis_id, recipient, status, attempts, scheduled_at,
		          retry_next_at, locked_until, last_error, created_at, updated_at`,
		limit, lease, claimant,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OutboxRow
	for rows.Next() {
		var o models.OutboxRow
		if err := rows.Scan(&o.ID, &o.AnalysisID, &o.Recipient, &o.Status, &o.Attempts, &o.ScheduledAt,
			&o.RetryNextAt, &o.LockedUntil, &o.LastError, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkOutboxSent finalises a delivered row.
func (r *Repository) MarkOutboxSent(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE email_outbox
		SET status = 'sent', locked_until = 'epoch', locked_by = '', last_error = '', updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// MarkOutboxRetry records a transient send failure: the row goes back to
// pending with retry_next_at set. Returns the new attempt count.
func (r *Repository) MarkOutboxRetry(ctx context.Context, id int64, retryAt time.Time, lastError string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE email_outbox
		SET status = 'pending',
		    attempts = attempts + 1,
		    retry_next_at = $2,
		    locked_until = 'epoch',
		    locked_by = '',
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING attempts`,
		id, retryAt, lastError,
	).Scan(&attempts)
	return attempts, err
}

// MarkOutboxFailed parks a row the server rejected permanently (550 class).
func (r *Repository) MarkOutboxFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE email_outbox
		SET status = 'failed', attempts = attempts + 1, locked_until = 'epoch', locked_by = '', last_error = $2, updated_at = NOW()
		WHERE id = $1`,
		id, lastError)
	return err
}

// MarkOutboxDead parks a row that exhausted its attempts.
func (r *Repository) MarkOutboxDead(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE email_outbox
		SET status = 'dead', attempts = attempts + 1, locked_until = 'epoch', locked_by = '', last_error = $2, updated_at = NOW()
		WHERE id = $1`,
		id, lastError)
	return err
}

// OutboxEmailContext carries everything the renderer needs for one delivery.
type OutboxEmailContext struct {
	Analysis   models.TranscriptAnalysis
	Transcript models.Transcript
	Equity     models.Equity
}

// OutboxContext joins the analysis, transcript, and equity behind an outbox
// row in one round trip.
func (r *Repository) OutboxContext(ctx context.Context, analysisID int64) (*OutboxEmailContext, error) {
	var c OutboxEmailContext
	err := r.db.QueryRow(ctx, `
		SELECT a.id, a.transcript_id, a.prompt_snapshot, a.output_text, a.model_ref,
		       a.tokens_in, a.tokens_out, a.cost, a.created_at,
		       t.id, t.equity_id, t.quarter, t.year, t.source_url, t.content_path, t.status,
		       t.event_date, t.analysis_status, t.analysis_error, t.created_at, t.updated_at,
		       e.id, e.symbol, e.alt_code, e.identifier, e.name, e.created_at, e.updated_at
		FROM transcript_analyses a
		JOIN transcripts t ON t.id = a.transcript_id
		JOIN equities e ON e.id = t.equity_id
		WHERE a.id = $1`,
		analysisID,
	).Scan(
		&c.Analysis.ID, &c.Analysis.TranscriptID, &c.Analysis.PromptSnapshot, &c.Analysis.OutputText, &c.Analysis.ModelRef,
		&c.Analysis.TokensIn, &c.Analysis.TokensOut, &c.Analysis.Cost, &c.Analysis.CreatedAt,
		&c.Transcript.ID, &c.Transcript.EquityID, &c.Transcript.Quarter, &c.Transcript.Year,
		&c.Transcript.SourceURL, &c.Transcript.ContentPath, &c.Transcript.Status,
		&c.Transcript.EventDate, &c.Transcript.AnalysisStatus, &c.Transcript.AnalysisError,
		&c.Transcript.CreatedAt, &c.Transcript.UpdatedAt,
		&c.Equity.ID, &c.Equity.Symbol, &c.Equity.AltCode, &c.Equity.Identifier, &c.Equity.Name,
		&c.Equity.CreatedAt, &c.Equity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

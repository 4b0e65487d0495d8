package repository

import (
	"context"
	"fmt"
	"time"

	"callscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// --- Transcripts ---

func (r *Repository) GetTranscript(ctx context.Context, equityID int64, quarter string, year int) (*models.Transcript, error) {
	var t models.Transcript
	err := r.db.QueryRow(ctx, `
		SELECT id, equity_id, quarter, year, source_url, content_path, status,
		       event_date, analysis_status, analysis_error, created_at, updated_at
		FROM transcripts
		WHERE equity_id = $1 AND quarter = $2 AND year = $3`,
		equityID, quarter, year,
	).Scan(&t.ID, &t.EquityID, &t.Quarter, &t.Year, &t.SourceURL, &t.ContentPath, &t.Status,
		&t.EventDate, &t.AnalysisStatus, &t.AnalysisError, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) GetTranscriptByID(ctx context.Context, id int64) (*models.Transcript, error) {
	var t models.Transcript
	err := r.db.QueryRow(ctx, `
		SELECT id, equity_id, quarter, year, source_url, content_path, status,
		       event_date, analysis_status, analysis_error, created_at, updated_at
		FROM transcripts WHERE id = $1`, id,
	).Scan(&t.ID, &t.EquityID, &t.Quarter, &t.Year, &t.SourceURL, &t.ContentPath, &t.Status,
		&t.EventDate, &t.AnalysisStatus, &t.AnalysisError, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertAvailable records an available transcript with its source URL.
// An existing available row never regresses; a fresher URL replaces the old
// one but the status stays available.
func (r *Repository) UpsertAvailable(ctx context.Context, equityID int64, quarter string, year int, sourceURL string, eventDate *time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO transcripts (equity_id, quarter, year, source_url, status, event_date)
		VALUES ($1, $2, $3, $4, 'available', $5)
		ON CONFLICT (equity_id, quarter, year) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			status = 'available',
			event_date = COALESCE(EXCLUDED.event_date, transcripts.event_date),
			updated_at = NOW()
		RETURNING id`,
		equityID, quarter, year, sourceURL, eventDate,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert available transcript: %w", err)
	}
	return id, nil
}

// UpsertUpcoming records an upcoming call date. It never downgrades a row
// that already reached available.
func (r *Repository) UpsertUpcoming(ctx context.Context, equityID int64, quarter string, year int, eventDate *time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO transcripts (equity_id, quarter, year, status, event_date)
		VALUES ($1, $2, $3, 'upcoming', $4)
		ON CONFLICT (equity_id, quarter, year) DO UPDATE SET
			status = CASE WHEN transcripts.status = 'available' THEN transcripts.status ELSE 'upcoming' END,
			event_date = COALESCE(EXCLUDED.event_date, transcripts.event_date),
			updated_at = NOW()
		RETURNING id`,
		equityID, quarter, year, eventDate,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert upcoming transcript: %w", err)
	}
	return id, nil
}

// EnsureTranscriptRow creates a status=none placeholder so later writes have a
// row to hang off. Existing rows are untouched.
func (r *Repository) EnsureTranscriptRow(ctx context.Context, equityID int64, quarter string, year int) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO transcripts (equity_id, quarter, year, status)
		VALUES ($1, $2, $3, 'none')
		ON CONFLICT (equity_id, quarter, year) DO UPDATE SET updated_at = transcripts.updated_at
		RETURNING id`,
		equityID, quarter, year,
	).Scan(&id)
	return id, err
}

// AppendEvent records an oracle observation. For events carrying a source URL
// the partial unique index makes the append idempotent; isNew reports whether
// this observation was the first with that URL. URL-less events always insert.
func (r *Repository) AppendEvent(ctx context.Context, ev models.TranscriptEvent) (isNew bool, err error) {
	if ev.SourceURL == nil {
		_, err := r.db.Exec(ctx, `
			INSERT INTO transcript_events (equity_id, quarter, year, status, event_date, origin)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.EquityID, ev.Quarter, ev.Year, ev.Status, ev.EventDate, ev.Origin,
		)
		return true, err
	}

	cmd, err := r.db.Exec(ctx, `
		INSERT INTO transcript_events (equity_id, quarter, year, status, source_url, event_date, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (equity_id, quarter, year, source_url) WHERE source_url IS NOT NULL
		DO NOTHING`,
		ev.EquityID, ev.Quarter, ev.Year, ev.Status, ev.SourceURL, ev.EventDate, ev.Origin,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// TryReserveTranscriptAnalysis flips analysis_status to in_progress iff no
// analysis is currently running or done. force reserves over done and error
// states; a concurrent in_progress always wins.
func (r *Repository) TryReserveTranscriptAnalysis(ctx context.Context, transcriptID int64, force bool) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE transcripts
		SET analysis_status = 'in_progress', analysis_error = NULL, updated_at = NOW()
		WHERE id = $1
		  AND status = 'available'
		  AND (analysis_status IS NULL
		       OR analysis_status = 'error'
		       OR ($2 AND analysis_status = 'done'))`,
		transcriptID, force,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// SetAnalysisOutcome records the terminal analysis state on the transcript.
func (r *Repository) SetAnalysisOutcome(ctx context.Context, transcriptID int64, status string, errMsg string) error {
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	_, err := r.db.Exec(ctx, `
		UPDATE transcripts
		SET analysis_status = $2, analysis_error = $3, updated_at = NOW()
		WHERE id = $1`,
		transcriptID, status, errVal,
	)
	return err
}

// ReleaseAnalysisReservation puts the transcript back to an analyzable state
// after a transient failure so a retry can reserve it again.
func (r *Repository) ReleaseAnalysisReservation(ctx context.Context, transcriptID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transcripts
		SET analysis_status = NULL, updated_at = NOW()
		WHERE id = $1 AND analysis_status = 'in_progress'`,
		transcriptID,
	)
	return err
}

// SetContentPath records where the cached transcript body lives.
func (r *Repository) SetContentPath(ctx context.Context, transcriptID int64, path string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE transcripts SET content_path = $2, updated_at = NOW() WHERE id = $1`,
		transcriptID, path)
	return err
}

// AvailableTranscriptsForEquities returns available transcripts for the given
// quarter keyed by equity id. Used by the research fan-in check.
func (r *Repository) AvailableTranscriptsForEquities(ctx context.Context, equityIDs []int64, quarter string, year int) (map[int64]models.Transcript, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, equity_id, quarter, year, source_url, content_path, status,
		       event_date, analysis_status, analysis_error, created_at, updated_at
		FROM transcripts
		WHERE equity_id = ANY($1) AND quarter = $2 AND year = $3 AND status = 'available'`,
		equityIDs, quarter, year,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]models.Transcript)
	for rows.Next() {
		var t models.Transcript
		if err := rows.Scan(&t.ID, &t.EquityID, &t.Quarter, &t.Year, &t.SourceURL, &t.ContentPath, &t.Status,
			&t.EventDate, &t.AnalysisStatus, &t.AnalysisError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out[t.EquityID] = t
	}
	return out, rows.Err()
}

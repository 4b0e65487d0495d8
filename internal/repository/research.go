package repository

import (
	"context"
	"time"

	"callscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// --- Group research runs ---

// GroupReadiness describes the fan-in state of a group for one quarter.
type GroupReadiness struct {
	GroupID   int64
	Members   int
	Available int
	Analyzed  int
}

// Ready reports whether every member has an available transcript with a
// completed analysis.
func (g GroupReadiness) Ready() bool {
	return g.Members > 0 && g.Available == g.Members && g.Analyzed == g.Members
}

// GroupReadinessFor computes the fan-in counters for a group and quarter in a
// single query.
func (r *Repository) GroupReadinessFor(ctx context.Context, groupID int64, quarter string, year int) (GroupReadiness, error) {
	g := GroupReadiness{GroupID: groupID}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE t.status = 'available'),
		       COUNT(*) FILTER (WHERE t.status = 'available' AND t.analysis_status = 'done')
		FROM group_memberships gm
		LEFT JOIN transcripts t
		       ON t.equity_id = gm.equity_id AND t.quarter = $2 AND t.year = $3
		WHERE gm.group_id = $1`,
		groupID, quarter, year,
	).Scan(&g.Members, &g.Available, &g.Analyzed)
	return g, err
}

func (r *Repository) GetResearchRun(ctx context.Context, groupID int64, quarter string, year int) (*models.GroupResearchRun, error) {
	var run models.GroupResearchRun
	err := r.db.QueryRow(ctx, `
		SELECT id, group_id, quarter, year, status, prompt_snapshot, output_text, model_ref, error_message, created_at, updated_at
		FROM group_research_runs
		WHERE group_id = $1 AND quarter = $2 AND year = $3`,
		groupID, quarter, year,
	).Scan(&run.ID, &run.GroupID, &run.Quarter, &run.Year, &run.Status, &run.PromptSnapshot,
		&run.OutputText, &run.ModelRef, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateResearchRun inserts a pending run. Returns (id, true) on creation or
// the existing run's id with false when one already exists for the quarter.
func (r *Repository) CreateResearchRun(ctx context.Context, groupID int64, quarter string, year int) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO group_research_runs (group_id, quarter, year)
		VALUES ($1, $2, $3)
		RETURNING id`,
		groupID, quarter, year,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !IsUniqueViolation(err) {
		return 0, false, err
	}
	err = r.db.QueryRow(ctx, `
		SELECT id FROM group_research_runs WHERE group_id = $1 AND quarter = $2 AND year = $3`,
		groupID, quarter, year,
	).Scan(&id)
	return id, false, err
}

// TryStartResearchRun moves a pending or errored run to in_progress. A done
// run stays frozen; a concurrent in_progress wins.
func (r *Repository) TryStartResearchRun(ctx context.Context, id int64) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE group_research_runs
		SET status = 'in_progress', error_message = '', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'error')`,
		id,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ReopenResearchRun resets a done run to pending for a forced regeneration.
func (r *Repository) ReopenResearchRun(ctx context.Context, groupID int64, quarter string, year int) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO group_research_runs (group_id, quarter, year)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, quarter, year) DO UPDATE SET
			status = 'pending',
			error_message = '',
			updated_at = NOW()
		RETURNING id`,
		groupID, quarter, year,
	).Scan(&id)
	return id, err
}

// FinishResearchRun stores the composed article and marks the run done.
func (r *Repository) FinishResearchRun(ctx context.Context, id int64, promptSnapshot, outputText, modelRef string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE group_research_runs
		SET status = 'done',
		    prompt_snapshot = $2,
		    output_text = $3,
		    model_ref = $4,
		    error_message = '',
		    updated_at = NOW()
		WHERE id = $1`,
		id, promptSnapshot, outputText, modelRef)
	return err
}

// FailResearchRun records a failed composition so a later readiness event can
// retry it.
func (r *Repository) FailResearchRun(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE group_research_runs
		SET status = 'error', error_message = $2, updated_at = NOW()
		WHERE id = $1`,
		id, errMsg)
	return err
}

// ListResearchRuns returns a group's runs, newest quarter first.
func (r *Repository) ListResearchRuns(ctx context.Context, groupID int64, limit int) ([]models.GroupResearchRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, group_id, quarter, year, status, prompt_snapshot, output_text, model_ref, error_message, created_at, updated_at
		FROM group_research_runs
		WHERE group_id = $1
		ORDER BY year DESC, quarter DESC
		LIMIT $2`,
		groupID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupResearchRun
	for rows.Next() {
		var run models.GroupResearchRun
		if err := rows.Scan(&run.ID, &run.GroupID, &run.Quarter, &run.Year, &run.Status, &run.PromptSnapshot,
			&run.OutputText, &run.ModelRef, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// MemberAnalysesFor returns the newest analysis per member equity for the
// quarter, keyed by equity id. Members without an analysis are absent.
func (r *Repository) MemberAnalysesFor(ctx context.Context, groupID int64, quarter string, year int) (map[int64]models.TranscriptAnalysis, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (t.equity_id)
		       a.id, a.transcript_id, a.prompt_snapshot, a.output_text, a.model_ref,
		       a.tokens_in, a.tokens_out, a.cost, a.created_at, t.equity_id
		FROM group_memberships gm
		JOIN transcripts t ON t.equity_id = gm.equity_id AND t.quarter = $2 AND t.year = $3
		JOIN transcript_analyses a ON a.transcript_id = t.id
		WHERE gm.group_id = $1
		ORDER BY t.equity_id, a.created_at DESC, a.id DESC`,
		groupID, quarter, year,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]models.TranscriptAnalysis)
	for rows.Next() {
		var a models.TranscriptAnalysis
		var equityID int64
		if err := rows.Scan(&a.ID, &a.TranscriptID, &a.PromptSnapshot, &a.OutputText, &a.ModelRef,
			&a.TokensIn, &a.TokensOut, &a.Cost, &a.CreatedAt, &equityID); err != nil {
			return nil, err
		}
		out[equityID] = a
	}
	return out, rows.Err()
}

// StaleResearchRunCount counts in_progress runs older than cutoff, a signal
// that a composer died mid-run.
func (r *Repository) StaleResearchRunCount(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM group_research_runs
		WHERE status = 'in_progress' AND updated_at < $1`, cutoff,
	).Scan(&n)
	return n, err
}

package repository

import (
	"context"
	"time"
)

// PipelineStatus aggregates the counters served by GET /status.
type PipelineStatus struct {
	Equities          int            `json:"equities"`
	Watchlisted       int            `json:"watchlisted"`
	ActiveGroups      int            `json:"active_groups"`
	ScheduleRows      int            `json:"schedule_rows"`
	ScheduleDue       int            `json:"schedule_due"`
	TranscriptsByState map[string]int `json:"transcripts_by_state"`
	AnalysesTotal     int            `json:"analyses_total"`
	QueueDepths       map[string]int `json:"queue_depths"`
	DeadLetters       int            `json:"dead_letters"`
	OutboxByState     map[string]int `json:"outbox_by_state"`
	ResearchByState   map[string]int `json:"research_by_state"`
	StaleResearchRuns int            `json:"stale_research_runs"`
}

// staleResearchCutoff matches the recovery sweeper's run age; runs older than
// this should already have been reclaimed, so a non-zero count is a signal.
const staleResearchCutoff = 15 * time.Minute

// PipelineStatus gathers the counters in one pass. The individual queries are
// cheap; no transaction is needed for a monitoring snapshot.
func (r *Repository) PipelineStatus(ctx context.Context, now time.Time) (*PipelineStatus, error) {
	s := &PipelineStatus{
		TranscriptsByState: make(map[string]int),
		OutboxByState:      make(map[string]int),
		ResearchByState:    make(map[string]int),
	}

	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM equities),
			(SELECT COUNT(*) FROM watchlist_items),
			(SELECT COUNT(*) FROM groups WHERE is_active),
			(SELECT COUNT(*) FROM fetch_schedule),
			(SELECT COUNT(*) FROM transcript_analyses)`,
	).Scan(&s.Equities, &s.Watchlisted, &s.ActiveGroups, &s.ScheduleRows, &s.AnalysesTotal)
	if err != nil {
		return nil, err
	}

	if s.ScheduleDue, err = r.CountDueScheduleRows(ctx, now); err != nil {
		return nil, err
	}
	if s.QueueDepths, err = r.QueueDepths(ctx); err != nil {
		return nil, err
	}
	if s.DeadLetters, err = r.DeadLetterCount(ctx); err != nil {
		return nil, err
	}

	if err := r.countByState(ctx, `SELECT status, COUNT(*) FROM transcripts GROUP BY status`, s.TranscriptsByState); err != nil {
		return nil, err
	}
	if err := r.countByState(ctx, `SELECT status, COUNT(*) FROM email_outbox GROUP BY status`, s.OutboxByState); err != nil {
		return nil, err
	}
	if err := r.countByState(ctx, `SELECT status, COUNT(*) FROM group_research_runs GROUP BY status`, s.ResearchByState); err != nil {
		return nil, err
	}
	if s.StaleResearchRuns, err = r.StaleResearchRunCount(ctx, now.Add(-staleResearchCutoff)); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) countByState(ctx context.Context, query string, into map[string]int) error {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return err
		}
		into[state] = n
	}
	return rows.Err()
}

// SchedulerStatus is the summary served by GET /scheduler/status.
type SchedulerStatus struct {
	TargetQuarter string     `json:"target_quarter"`
	TargetYear    int        `json:"target_year"`
	ScheduleRows  int        `json:"schedule_rows"`
	Due           int        `json:"due"`
	NextCheckAt   *time.Time `json:"next_check_at,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
}

// SchedulerStatus reports the scheduler's view of the world. The last sync
// time comes from the settings table where the sync loop records it.
func (r *Repository) SchedulerStatus(ctx context.Context, quarter string, year int, now time.Time) (*SchedulerStatus, error) {
	s := &SchedulerStatus{TargetQuarter: quarter, TargetYear: year}

	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM fetch_schedule`).Scan(&s.ScheduleRows)
	if err != nil {
		return nil, err
	}
	if s.Due, err = r.CountDueScheduleRows(ctx, now); err != nil {
		return nil, err
	}
	if s.NextCheckAt, err = r.NextScheduledCheck(ctx); err != nil {
		return nil, err
	}

	raw, err := r.Setting(ctx, "scheduler_last_sync_at")
	if err != nil {
		return nil, err
	}
	if raw != "" {
		if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
			s.LastSyncAt = &t
		}
	}
	return s, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"callscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// --- Fetch Schedule ---

// SyncSchedule materialises one schedule row per tracked equity for the target
// quarter and removes rows for equities that left all tracked sets. Existing
// rows keep their next_check_at so adaptive cadence survives the sync.
func (r *Repository) SyncSchedule(ctx context.Context, quarter string, year int) (created int, removed int, err error) {
	watchlist, groupOnly, err := r.TrackedEquityIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	// Remove rows for untracked equities in the target quarter. Rows for
	// older quarters are left alone; the window retirement pass handles them.
	cmd, err := tx.Exec(ctx, `
		DELETE FROM fetch_schedule fs
		WHERE fs.quarter = $1 AND fs.year = $2
		  AND NOT EXISTS (SELECT 1 FROM watchlist_items w WHERE w.equity_id = fs.equity_id)
		  AND NOT EXISTS (
			SELECT 1 FROM group_memberships gm
			JOIN groups g ON g.id = gm.group_id
			WHERE gm.equity_id = fs.equity_id AND g.is_active
		  )`,
		quarter, year,
	)
	if err != nil {
		return 0, 0, err
	}
	removed = int(cmd.RowsAffected())

	upsert := func(equityID int64, priority int) error {
		cmd, err := tx.Exec(ctx, `
			INSERT INTO fetch_schedule (equity_id, quarter, year, priority, next_check_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (equity_id, quarter, year) DO UPDATE SET
				priority = EXCLUDED.priority,
				updated_at = NOW()`,
			equityID, quarter, year, priority,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() > 0 {
			created++
		}
		return nil
	}

	for id := range watchlist {
		if err := upsert(id, models.PriorityWatchlist); err != nil {
			return 0, 0, err
		}
	}
	for id := range groupOnly {
		if err := upsert(id, models.PriorityGroupOnly); err != nil {
			return 0, 0, err
		}
	}

	return created, removed, tx.Commit(ctx)
}

// ClaimDueSchedule atomically claims up to limit due rows, ordered by
// (priority, next_check_at), and extends their lock to now + lease.
// A row is claimable iff next_check_at <= now and locked_until < now.
func (r *Repository) ClaimDueSchedule(ctx context.Context, limit int, now time.Time, lease time.Duration, claimant string) ([]models.FetchScheduleRow, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE fetch_schedule
		SET locked_until = $1, locked_by = $4, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM fetch_schedule
			WHERE next_check_at <= $2 AND locked_until < $2
			ORDER BY priority ASC, next_check_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, equity_id, quarter, year, priority, next_check_at,
		          last_status, last_checked_at, last_available_at, attempts, locked_until, locked_by`,
		now.Add(lease), now, limit, claimant,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduleRows(rows)
}

func scanScheduleRows(rows pgx.Rows) ([]models.FetchScheduleRow, error) {
	var out []models.FetchScheduleRow
	for rows.Next() {
		var s models.FetchScheduleRow
		if err := rows.Scan(&s.ID, &s.EquityID, &s.Quarter, &s.Year, &s.Priority, &s.NextCheckAt,
			&s.LastStatus, &s.LastCheckedAt, &s.LastAvailableAt, &s.Attempts, &s.LockedUntil, &s.LockedBy); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetScheduleRow(ctx context.Context, id int64) (*models.FetchScheduleRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, equity_id, quarter, year, priority, next_check_at,
		       last_status, last_checked_at, last_available_at, attempts, locked_until, locked_by
		FROM fetch_schedule WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := scanScheduleRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// FinishScheduleCheck records a completed poll: status, next check time, and
// resets attempts and the lock. wasAvailable also stamps last_available_at.
func (r *Repository) FinishScheduleCheck(ctx context.Context, id int64, status string, nextCheckAt time.Time, wasAvailable bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE fetch_schedule
		SET last_status = $2,
		    last_checked_at = NOW(),
		    last_available_at = CASE WHEN $3 THEN NOW() ELSE last_available_at END,
		    next_check_at = $4,
		    attempts = 0,
		    locked_until = 'epoch',
		    locked_by = '',
		    updated_at = NOW()
		WHERE id = $1`,
		id, status, wasAvailable, nextCheckAt,
	)
	return err
}

// FailScheduleCheck records a transient poll failure: attempts is incremented
// and the row backs off without overwriting last_status.
func (r *Repository) FailScheduleCheck(ctx context.Context, id int64, nextCheckAt time.Time) (attempts int, err error) {
	err = r.db.QueryRow(ctx, `
		UPDATE fetch_schedule
		SET last_checked_at = NOW(),
		    next_check_at = $2,
		    attempts = attempts + 1,
		    locked_until = 'epoch',
		    locked_by = '',
		    updated_at = NOW()
		WHERE id = $1
		RETURNING attempts`,
		id, nextCheckAt,
	).Scan(&attempts)
	return attempts, err
}

// MarkSchedulePermanentError records a permanent failure (auth, hard 4xx) and
// parks the row for 24 hours.
func (r *Repository) MarkSchedulePermanentError(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE fetch_schedule
		SET last_status = 'error',
		    last_checked_at = NOW(),
		    next_check_at = NOW() + INTERVAL '24 hours',
		    locked_until = 'epoch',
		    locked_by = '',
		    updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// TriggerPriority picks the lane for an on-demand schedule row. Rows for a
// quarter other than the live target are reconciliation sweeps and run behind
// the live lanes.
func TriggerPriority(watchlisted, reconciliation bool) int {
	if reconciliation {
		return models.PriorityReconciliation
	}
	if watchlisted {
		return models.PriorityWatchlist
	}
	return models.PriorityGroupOnly
}

// TriggerScheduleRow makes the row immediately due, creating it if the equity
// is tracked but has no row for the quarter yet. reconciliation marks a
// backfill of a non-target quarter. Used by POST /analyze and watchlist/group
// insert hooks.
func (r *Repository) TriggerScheduleRow(ctx context.Context, equityID int64, quarter string, year int, reconciliation bool) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE fetch_schedule
		SET next_check_at = NOW(), attempts = 0, locked_until = 'epoch', locked_by = '', updated_at = NOW()
		WHERE equity_id = $1 AND quarter = $2 AND year = $3`,
		equityID, quarter, year,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}

	watchlisted, err := r.IsWatchlisted(ctx, equityID)
	if err != nil {
		return err
	}
	priority := TriggerPriority(watchlisted, reconciliation)
	_, err = r.db.Exec(ctx, `
		INSERT INTO fetch_schedule (equity_id, quarter, year, priority, next_check_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (equity_id, quarter, year) DO UPDATE SET
			next_check_at = NOW(),
			attempts = 0,
			locked_until = 'epoch',
			updated_at = NOW()`,
		equityID, quarter, year, priority,
	)
	return err
}

// RetireStaleScheduleRows soft-retires rows from past quarters that have been
// quiet for over 90 days: priority drops to the retired lane and cadence
// stretches to 7 days. Returns the number of rows retired.
func (r *Repository) RetireStaleScheduleRows(ctx context.Context, currentQuarter string, currentYear int) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE fetch_schedule
		SET priority = $3,
		    next_check_at = NOW() + INTERVAL '7 days',
		    updated_at = NOW()
		WHERE (quarter != $1 OR year != $2)
		  AND priority < $3
		  AND COALESCE(last_available_at, created_at) < NOW() - INTERVAL '90 days'`,
		currentQuarter, currentYear, models.PriorityRetired,
	)
	if err != nil {
		return 0, fmt.Errorf("retire stale schedule rows: %w", err)
	}
	return cmd.RowsAffected(), nil
}

// CountDueScheduleRows returns how many rows are currently claimable.
func (r *Repository) CountDueScheduleRows(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM fetch_schedule
		WHERE next_check_at <= $1 AND locked_until < $1`, now,
	).Scan(&n)
	return n, err
}

// NextScheduledCheck returns the earliest next_check_at across all rows, or
// nil when the schedule is empty. MIN over zero rows yields SQL NULL, so the
// scan target must be a pointer.
func (r *Repository) NextScheduledCheck(ctx context.Context) (*time.Time, error) {
	var next *time.Time
	if err := r.db.QueryRow(ctx, `SELECT MIN(next_check_at) FROM fetch_schedule`).Scan(&next); err != nil {
		return nil, err
	}
	return next, nil
}

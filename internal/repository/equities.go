package repository

import (
	"context"
	"fmt"

	"callscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertEquity inserts or refreshes an equity keyed by its external identifier.
func (r *Repository) UpsertEquity(ctx context.Context, e models.Equity) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO equities (symbol, alt_code, identifier, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			alt_code = EXCLUDED.alt_code,
			name = COALESCE(NULLIF(EXCLUDED.name, ''), equities.name),
			updated_at = NOW()
		RETURNING id`,
		e.Symbol, e.AltCode, e.Identifier, e.Name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert equity %s: %w", e.Identifier, err)
	}
	return id, nil
}

func (r *Repository) GetEquity(ctx context.Context, id int64) (*models.Equity, error) {
	var e models.Equity
	err := r.db.QueryRow(ctx, `
		SELECT id, symbol, alt_code, identifier, name, created_at, updated_at
		FROM equities WHERE id = $1`, id,
	).Scan(&e.ID, &e.Symbol, &e.AltCode, &e.Identifier, &e.Name, &e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// IsWatchlisted reports whether the equity is on the watchlist.
func (r *Repository) IsWatchlisted(ctx context.Context, equityID int64) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx,
		`SELECT 1 FROM watchlist_items WHERE equity_id = $1`, equityID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) AddToWatchlist(ctx context.Context, equityID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO watchlist_items (equity_id) VALUES ($1)
		ON CONFLICT (equity_id) DO NOTHING`, equityID)
	return err
}

func (r *Repository) RemoveFromWatchlist(ctx context.Context, equityID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM watchlist_items WHERE equity_id = $1`, equityID)
	return err
}

// TrackedEquityIDs returns watchlist ids, active-group-member ids, and their
// union, in one round trip set. Used by the schedule sync.
func (r *Repository) TrackedEquityIDs(ctx context.Context) (watchlist, groupOnly map[int64]bool, err error) {
	watchlist = make(map[int64]bool)
	groupOnly = make(map[int64]bool)

	rows, err := r.db.Query(ctx, `SELECT equity_id FROM watchlist_items`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, nil, err
		}
		watchlist[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	grows, err := r.db.Query(ctx, `
		SELECT DISTINCT gm.equity_id
		FROM group_memberships gm
		JOIN groups g ON g.id = gm.group_id
		WHERE g.is_active`)
	if err != nil {
		return nil, nil, err
	}
	defer grows.Close()
	for grows.Next() {
		var id int64
		if err := grows.Scan(&id); err != nil {
			return nil, nil, err
		}
		if !watchlist[id] {
			groupOnly[id] = true
		}
	}
	return watchlist, groupOnly, grows.Err()
}

// InActiveGroup reports whether the equity belongs to any active group.
func (r *Repository) InActiveGroup(ctx context.Context, equityID int64) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx, `
		SELECT 1
		FROM group_memberships gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.equity_id = $1 AND g.is_active
		LIMIT 1`, equityID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ActiveGroupsForEquity lists active groups the equity belongs to.
func (r *Repository) ActiveGroupsForEquity(ctx context.Context, equityID int64) ([]models.Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT g.id, g.name, g.deep_research_prompt, g.stock_summary_prompt, g.is_active, g.created_at, g.updated_at
		FROM groups g
		JOIN group_memberships gm ON gm.group_id = g.id
		WHERE gm.equity_id = $1 AND g.is_active
		ORDER BY g.id`, equityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (r *Repository) ListActiveGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, deep_research_prompt, stock_summary_prompt, is_active, created_at, updated_at
		FROM groups WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (r *Repository) GetGroup(ctx context.Context, id int64) (*models.Group, error) {
	var g models.Group
	err := r.db.QueryRow(ctx, `
		SELECT id, name, deep_research_prompt, stock_summary_prompt, is_active, created_at, updated_at
		FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.DeepResearchPrompt, &g.StockSummaryPrompt, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGroups(rows pgx.Rows) ([]models.Group, error) {
	var out []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.DeepResearchPrompt, &g.StockSummaryPrompt, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GroupMembers returns the current member equities of a group.
func (r *Repository) GroupMembers(ctx context.Context, groupID int64) ([]models.Equity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.symbol, e.alt_code, e.identifier, e.name, e.created_at, e.updated_at
		FROM equities e
		JOIN group_memberships gm ON gm.equity_id = e.id
		WHERE gm.group_id = $1
		ORDER BY e.id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Equity
	for rows.Next() {
		var e models.Equity
		if err := rows.Scan(&e.ID, &e.Symbol, &e.AltCode, &e.Identifier, &e.Name, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ActiveRecipients returns the notification list.
func (r *Repository) ActiveRecipients(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT email FROM recipients WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// ActiveSMTPSettings returns the newest active SMTP row, or nil when email is
// not configured.
func (r *Repository) ActiveSMTPSettings(ctx context.Context) (*models.SMTPSettings, error) {
	var s models.SMTPSettings
	err := r.db.QueryRow(ctx, `
		SELECT host, port, username, app_password, from_address
		FROM smtp_settings
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1`,
	).Scan(&s.Host, &s.Port, &s.Username, &s.AppPassword, &s.FromAddress)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultLLMModel returns the active default model from the catalogue.
func (r *Repository) DefaultLLMModel(ctx context.Context) (*models.LLMModel, error) {
	var m models.LLMModel
	err := r.db.QueryRow(ctx, `
		SELECT id, provider, model_id, revision, api_key, is_active, is_default,
		       max_output_tokens, supports_thinking, cost_per_1m_input, cost_per_1m_output
		FROM llm_models
		WHERE is_active AND is_default
		ORDER BY id
		LIMIT 1`,
	).Scan(&m.ID, &m.Provider, &m.ModelID, &m.Revision, &m.APIKey, &m.IsActive, &m.IsDefault,
		&m.MaxOutputTokens, &m.SupportsThinking, &m.CostPer1MInput, &m.CostPer1MOutput)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no default model configured")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

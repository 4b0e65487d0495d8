package repository

import (
	"context"
	"encoding/json"
	"time"

	"callscan/internal/models"
)

// --- Durable queue ---
//
// queue_messages is a simple visibility-lease queue: a message is claimable
// when available_at <= now and locked_until < now; claiming extends
// locked_until and counts the delivery. Ack deletes, nack re-schedules, and
// messages claimed more than the attempt cap move to queue_dead_letters.
// Counting at claim time means a handler that crashes the process still
// burns an attempt on the next delivery.

// PublishMessage enqueues payload on queue, visible after delay.
func (r *Repository) PublishMessage(ctx context.Context, queue string, payload any, delay time.Duration) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO queue_messages (queue_name, payload, available_at)
		VALUES ($1, $2, NOW() + $3)
		RETURNING id`,
		queue, data, delay,
	).Scan(&id)
	return id, err
}

// ClaimMessages claims up to limit visible messages from queue in FIFO order
// and holds them for lease. Each claim increments the attempt count, so the
// returned Attempts includes the delivery in hand.
func (r *Repository) ClaimMessages(ctx context.Context, queue string, limit int, lease time.Duration, claimant string) ([]models.QueueMessage, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE queue_messages
		SET locked_until = NOW() + $3, locked_by = $4, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM queue_messages
			WHERE queue_name = $1 AND available_at <= NOW() AND locked_until < NOW()
			ORDER BY available_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue_name, payload, available_at, locked_until, attempts, created_at`,
		queue, limit, lease, claimant,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueMessage
	for rows.Next() {
		var m models.QueueMessage
		if err := rows.Scan(&m.ID, &m.QueueName, &m.Payload, &m.AvailableAt, &m.LockedUntil, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AckMessage removes a processed message.
func (r *Repository) AckMessage(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM queue_messages WHERE id = $1`, id)
	return err
}

// NackMessage returns the message to the queue after delay. The attempt was
// already counted at claim time. Returns the attempt count.
func (r *Repository) NackMessage(ctx context.Context, id int64, delay time.Duration) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE queue_messages
		SET available_at = NOW() + $2,
		    locked_until = 'epoch',
		    locked_by = ''
		WHERE id = $1
		RETURNING attempts`,
		id, delay,
	).Scan(&attempts)
	return attempts, err
}

// ExtendMessageLease pushes out the visibility deadline for a message still
// being processed.
func (r *Repository) ExtendMessageLease(ctx context.Context, id int64, lease time.Duration) error {
	_, err := r.db.Exec(ctx,
		`UPDATE queue_messages SET locked_until = NOW() + $2 WHERE id = $1`, id, lease)
	return err
}

// DeadLetterMessage moves an exhausted message to the dead-letter table in a
// single transaction.
func (r *Repository) DeadLetterMessage(ctx context.Context, id int64, lastError string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_dead_letters (queue_name, payload, attempts, last_error)
		SELECT queue_name, payload, attempts, $2
		FROM queue_messages WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_messages WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// QueueDepths returns the per-queue count of pending messages.
func (r *Repository) QueueDepths(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT queue_name, COUNT(*) FROM queue_messages GROUP BY queue_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		depths[name] = n
	}
	return depths, rows.Err()
}

// DeadLetterCount returns the total number of dead letters.
func (r *Repository) DeadLetterCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dead_letters`).Scan(&n)
	return n, err
}

// RequeueDeadLetters moves up to limit dead letters (optionally filtered by
// queue) back onto their queues with a reset attempt count. Used by the
// requeue tool.
func (r *Repository) RequeueDeadLetters(ctx context.Context, queue string, limit int) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, queue_name, payload FROM queue_dead_letters
		WHERE ($1 = '' OR queue_name = $1)
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		queue, limit,
	)
	if err != nil {
		return 0, err
	}
	type dead struct {
		id      int64
		queue   string
		payload []byte
	}
	var batch []dead
	for rows.Next() {
		var d dead
		if err := rows.Scan(&d.id, &d.queue, &d.payload); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, d := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO queue_messages (queue_name, payload, available_at)
			VALUES ($1, $2, NOW())`, d.queue, d.payload)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM queue_dead_letters WHERE id = $1`, d.id); err != nil {
			return 0, err
		}
	}
	return int64(len(batch)), tx.Commit(ctx)
}

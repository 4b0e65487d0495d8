// Package queue layers typed messages and a consumer loop over the durable
// queue tables. Delivery is at-least-once; handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"callscan/internal/models"
	"callscan/internal/repository"
	"callscan/internal/retry"
)

// Queue names.
const (
	QueueTranscriptCheck = "transcript_check"
	QueueAnalysisRequest = "analysis_request"
	QueueEmailSend       = "email_send"
	QueueGroupResearch   = "group_research_request"
	QueueSchedulerTick   = "scheduler_tick"
)

// TranscriptCheck asks a fetcher to poll the oracle for one schedule row.
type TranscriptCheck struct {
	ScheduleRowID int64  `json:"schedule_row_id"`
	EquityID      int64  `json:"equity_id"`
	Quarter       string `json:"quarter"`
	Year          int    `json:"year"`
}

// AnalysisRequest asks an analysis worker to run one transcript through the
// model. Force bypasses the done-state guard.
type AnalysisRequest struct {
	TranscriptID int64  `json:"transcript_id"`
	SourceURL    string `json:"source_url"`
	Force        bool   `json:"force"`
	// JobID links the message to its analysis_jobs row.
	JobID int64 `json:"job_id,omitempty"`
}

// GroupResearchRequest asks the research coordinator to evaluate one group's
// fan-in for a quarter.
type GroupResearchRequest struct {
	GroupID int64  `json:"group_id"`
	Quarter string `json:"quarter"`
	Year    int    `json:"year"`
	Force   bool   `json:"force"`
}

// SchedulerTick forces an immediate dispatch pass, optionally scoped to one
// equity. Published by the admin trigger endpoint.
type SchedulerTick struct {
	EquityID int64  `json:"equity_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// maxAttempts caps redelivery per queue before a message dead-letters.
var maxAttempts = map[string]int{
	QueueTranscriptCheck: 5,
	QueueAnalysisRequest: 6,
	QueueEmailSend:       8,
	QueueGroupResearch:   5,
	QueueSchedulerTick:   2,
}

// MaxAttempts returns the redelivery cap for a queue.
func MaxAttempts(queue string) int {
	if n, ok := maxAttempts[queue]; ok {
		return n
	}
	return 5
}

// Exhausted reports whether a message delivered attempts times has no
// redeliveries left on queue. Attempts are counted at claim time, so the
// delivery in hand is included.
func Exhausted(queue string, attempts int) bool {
	return attempts >= MaxAttempts(queue)
}

// retryDelay computes the redelivery delay after a failed attempt. attempts
// includes the delivery that just failed, so the first retry waits base.
func retryDelay(attempts int, base, max time.Duration) time.Duration {
	return retry.Backoff(attempts-1, base, max)
}

// Broker publishes and consumes typed messages.
type Broker struct {
	repo     *repository.Repository
	claimant string
}

func NewBroker(repo *repository.Repository, claimant string) *Broker {
	return &Broker{repo: repo, claimant: claimant}
}

// Publish enqueues payload on queue with no delay.
func (b *Broker) Publish(ctx context.Context, queue string, payload any) error {
	return b.PublishDelayed(ctx, queue, payload, 0)
}

// PublishDelayed enqueues payload visible after delay.
func (b *Broker) PublishDelayed(ctx context.Context, queue string, payload any, delay time.Duration) error {
	if _, err := b.repo.PublishMessage(ctx, queue, payload, delay); err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// Handler processes one decoded message. Returning a RetryableError schedules
// redelivery with backoff; any other error dead-letters immediately; nil acks.
type Handler func(ctx context.Context, msg models.QueueMessage) error

// RetryableError wraps a transient failure so the consumer redelivers.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// ConsumerConfig tunes one consumer loop.
type ConsumerConfig struct {
	Queue        string
	BatchSize    int
	Lease        time.Duration
	PollInterval time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
}

func (c *ConsumerConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Minute
	}
}

// Consume claims and processes messages until ctx is cancelled. Safe to run
// from several goroutines against the same queue; SKIP LOCKED partitions the
// work.
func (b *Broker) Consume(ctx context.Context, cfg ConsumerConfig, handler Handler) error {
	cfg.defaults()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msgs, err := b.repo.ClaimMessages(ctx, cfg.Queue, cfg.BatchSize, cfg.Lease, b.claimant)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[queue] claim %s failed: %v", cfg.Queue, err)
			continue
		}

		for _, msg := range msgs {
			b.dispatch(ctx, cfg, msg, handler)
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, cfg ConsumerConfig, msg models.QueueMessage, handler Handler) {
	err := handler(ctx, msg)
	if err == nil {
		if ackErr := b.repo.AckMessage(ctx, msg.ID); ackErr != nil {
			log.Printf("[queue] ack %s/%d failed: %v", cfg.Queue, msg.ID, ackErr)
		}
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-message; the lease expiry redelivers it.
		return
	}

	var retryable *RetryableError
	transient := errors.As(err, &retryable)

	if !transient || Exhausted(cfg.Queue, msg.Attempts) {
		log.Printf("[queue] dead-lettering %s/%d after %d attempts: %v", cfg.Queue, msg.ID, msg.Attempts, err)
		if dlErr := b.repo.DeadLetterMessage(ctx, msg.ID, err.Error()); dlErr != nil {
			log.Printf("[queue] dead-letter %s/%d failed: %v", cfg.Queue, msg.ID, dlErr)
		}
		return
	}

	delay := retryDelay(msg.Attempts, cfg.RetryBase, cfg.RetryMax)
	log.Printf("[queue] retrying %s/%d in %v (attempt %d): %v", cfg.Queue, msg.ID, delay, msg.Attempts, err)
	if _, nackErr := b.repo.NackMessage(ctx, msg.ID, delay); nackErr != nil {
		log.Printf("[queue] nack %s/%d failed: %v", cfg.Queue, msg.ID, nackErr)
	}
}

// Decode unmarshals a message payload into v.
func Decode(msg models.QueueMessage, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.QueueName, err)
	}
	return nil
}

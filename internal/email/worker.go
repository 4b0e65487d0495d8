package email

import (
	"context"
	"log"
	"time"

	"callscan/internal/eventbus"
	"callscan/internal/models"
	"callscan/internal/queue"
	"callscan/internal/repository"
	"callscan/internal/retry"
)

const (
	claimLease       = 5 * time.Minute
	retryBackoffBase = time.Minute
	retryBackoffMax  = 6 * time.Hour
)

// Worker drains the email_outbox table. It polls the table directly rather
// than a queue: the outbox rows are the durable messages.
type Worker struct {
	repo     *repository.Repository
	sender   Sender
	claimant string
	bus      *eventbus.Bus

	pollInterval time.Duration
	batchSize    int
}

func NewWorker(repo *repository.Repository, sender Sender, claimant string, bus *eventbus.Bus) *Worker {
	return &Worker{
		repo:         repo,
		sender:       sender,
		claimant:     claimant,
		bus:          bus,
		pollInterval: 5 * time.Second,
		batchSize:    10,
	}
}

// Start polls for deliverable outbox rows until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Println("[email] Starting")
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[email] Stopping")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	rows, err := w.repo.ClaimDueOutbox(ctx, w.batchSize, claimLease, w.claimant)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[email] claim outbox: %v", err)
		}
		return
	}

	if len(rows) == 0 {
		return
	}

	settings, err := w.repo.ActiveSMTPSettings(ctx)
	if err != nil {
		log.Printf("[email] load smtp settings: %v", err)
		return
	}
	if settings == nil {
		// No relay configured; release the claims by letting the lease
		// expire and log once per batch.
		log.Printf("[email] %d deliveries pending but smtp is not configured", len(rows))
		return
	}

	for _, row := range rows {
		w.deliver(ctx, settings, row)
	}
}

func (w *Worker) deliver(ctx context.Context, settings *models.SMTPSettings, row models.OutboxRow) {
	emailCtx, err := w.repo.OutboxContext(ctx, row.AnalysisID)
	if err != nil {
		log.Printf("[email] load context for outbox %d: %v", row.ID, err)
		w.recordFailure(ctx, row, err)
		return
	}

	subject := Subject(emailCtx.Equity, emailCtx.Transcript)
	body := RenderAnalysis(emailCtx.Equity, emailCtx.Transcript, emailCtx.Analysis)

	if err := w.sender.Send(*settings, row.Recipient, subject, body); err != nil {
		log.Printf("[email] send outbox %d to %s: %v", row.ID, row.Recipient, err)
		w.recordFailure(ctx, row, err)
		return
	}

	if err := w.repo.MarkOutboxSent(ctx, row.ID); err != nil {
		log.Printf("[email] mark outbox %d sent: %v", row.ID, err)
		return
	}
	log.Printf("[email] sent outbox %d to %s", row.ID, row.Recipient)
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{
			Type:     eventbus.TypeEmailSent,
			EquityID: emailCtx.Equity.ID,
			Quarter:  emailCtx.Transcript.Quarter,
			Year:     emailCtx.Transcript.Year,
			Data:     row.Recipient,
		})
	}
}

// recordFailure writes the row's next durable state after a failed delivery.
func (w *Worker) recordFailure(ctx context.Context, row models.OutboxRow, cause error) {
	switch failureStatus(cause, row.Attempts+1) {
	case models.OutboxFailed:
		if err := w.repo.MarkOutboxFailed(ctx, row.ID, cause.Error()); err != nil {
			log.Printf("[email] mark outbox %d failed: %v", row.ID, err)
		}
	case models.OutboxDead:
		if err := w.repo.MarkOutboxDead(ctx, row.ID, cause.Error()); err != nil {
			log.Printf("[email] mark outbox %d dead: %v", row.ID, err)
		}
	default:
		retryAt := time.Now().UTC().Add(retry.Backoff(row.Attempts, retryBackoffBase, retryBackoffMax))
		if _, err := w.repo.MarkOutboxRetry(ctx, row.ID, retryAt, cause.Error()); err != nil {
			log.Printf("[email] record retry for outbox %d: %v", row.ID, err)
		}
	}
}

// failureStatus maps a send error onto the outbox status the row should carry
// next: permanent rejections are failed, exhausted retries are dead, anything
// else goes back to pending with a backoff. attempts counts this failure.
func failureStatus(err error, attempts int) string {
	if Permanent(err) {
		return models.OutboxFailed
	}
	if attempts >= queue.MaxAttempts(queue.QueueEmailSend) {
		return models.OutboxDead
	}
	return models.OutboxPending
}

// Package fetcher polls the oracle for tracked equities and records what it
// sees.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"callscan/internal/eventbus"
	"callscan/internal/fiscal"
	"callscan/internal/models"
	"callscan/internal/oracle"
	"callscan/internal/queue"
	"callscan/internal/repository"
	"callscan/internal/scheduler"
)

const eventOriginPoll = "poll"

// Worker consumes transcript_check messages, calls the oracle, and writes the
// observation back. Analysis requests are published only for fresh
// observations on eligible equities.
type Worker struct {
	repo   *repository.Repository
	broker *queue.Broker
	oracle *oracle.Client
	bus    *eventbus.Bus
}

func NewWorker(repo *repository.Repository, broker *queue.Broker, oc *oracle.Client, bus *eventbus.Bus) *Worker {
	return &Worker{repo: repo, broker: broker, oracle: oc, bus: bus}
}

func (w *Worker) publishEvent(evtType string, row *models.FetchScheduleRow, data interface{}) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{
		Type:     evtType,
		EquityID: row.EquityID,
		Quarter:  row.Quarter,
		Year:     row.Year,
		Data:     data,
	})
}

// Start consumes the transcript_check queue until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Println("[fetcher] Starting")
	cfg := queue.ConsumerConfig{
		Queue:     queue.QueueTranscriptCheck,
		BatchSize: 5,
		Lease:     2 * time.Minute,
	}
	if err := w.broker.Consume(ctx, cfg, w.handle); err != nil && ctx.Err() == nil {
		log.Printf("[fetcher] consumer stopped: %v", err)
	}
	log.Println("[fetcher] Stopping")
}

func (w *Worker) handle(ctx context.Context, msg models.QueueMessage) error {
	var check queue.TranscriptCheck
	if err := queue.Decode(msg, &check); err != nil {
		return err
	}

	row, err := w.repo.GetScheduleRow(ctx, check.ScheduleRowID)
	if err != nil {
		return queue.Retryable(err)
	}
	if row == nil || row.EquityID != check.EquityID || row.Quarter != check.Quarter || row.Year != check.Year {
		// Row deleted or rewritten since dispatch; nothing to do.
		return nil
	}

	equity, err := w.repo.GetEquity(ctx, row.EquityID)
	if err != nil {
		return queue.Retryable(err)
	}
	if equity == nil {
		return nil
	}

	res := w.oracle.CheckTranscript(ctx, equity.TradingSymbol(), row.Quarter, row.Year)
	now := time.Now().UTC()
	q := fiscal.Quarter{Quarter: row.Quarter, Year: row.Year}

	switch res.Outcome {
	case oracle.OutcomeAvailable:
		if err := w.recordAvailable(ctx, equity, row, res); err != nil {
			return queue.Retryable(err)
		}
	case oracle.OutcomeUpcoming:
		if _, err := w.repo.UpsertUpcoming(ctx, row.EquityID, row.Quarter, row.Year, res.EventDate); err != nil {
			return queue.Retryable(err)
		}
		if isNew, err := w.appendEvent(ctx, row, models.TranscriptUpcoming, nil, res.EventDate); err != nil {
			return queue.Retryable(err)
		} else if isNew {
			w.publishEvent(eventbus.TypeTranscriptUpcoming, row, res.EventDate)
		}
	case oracle.OutcomeNone:
		if _, err := w.appendEvent(ctx, row, models.TranscriptNone, nil, nil); err != nil {
			return queue.Retryable(err)
		}
	case oracle.OutcomeTransient:
		if res.RateLimited {
			// Provider pushback is a queue concern, not a schedule-row
			// error: redeliver the message and leave the row clean.
			return queue.Retryable(res.Err)
		}
		next := scheduler.ErrorBackoffAt(row.Attempts+1, now)
		if _, err := w.repo.FailScheduleCheck(ctx, row.ID, next); err != nil {
			return queue.Retryable(err)
		}
		log.Printf("[fetcher] transient check failure for %s %s FY%d: %v", equity.TradingSymbol(), row.Quarter, row.Year, res.Err)
		// The check itself completed; the schedule row carries the retry.
		return nil
	default: // permanent
		if err := w.repo.MarkSchedulePermanentError(ctx, row.ID); err != nil {
			return queue.Retryable(err)
		}
		log.Printf("[fetcher] permanent check failure for %s %s FY%d: %v", equity.TradingSymbol(), row.Quarter, row.Year, res.Err)
		return nil
	}

	status := res.Outcome
	next := scheduler.NextCheckAt(status, res.EventDate, q, row.Priority, now)
	if err := w.repo.FinishScheduleCheck(ctx, row.ID, status, next, status == models.TranscriptAvailable); err != nil {
		return queue.Retryable(err)
	}
	return nil
}

// recordAvailable persists an available observation and, when the event is
// new and the equity is eligible, queues an analysis.
func (w *Worker) recordAvailable(ctx context.Context, equity *models.Equity, row *models.FetchScheduleRow, res oracle.CheckResult) error {
	transcriptID, err := w.repo.UpsertAvailable(ctx, row.EquityID, row.Quarter, row.Year, res.SourceURL, res.EventDate)
	if err != nil {
		return err
	}

	isNew, err := w.appendEvent(ctx, row, models.TranscriptAvailable, &res.SourceURL, res.EventDate)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	w.publishEvent(eventbus.TypeTranscriptAvailable, row, res.SourceURL)

	eligible, err := w.eligibleForAnalysis(ctx, row)
	if err != nil {
		return err
	}
	if !eligible {
		log.Printf("[fetcher] transcript %d for %s not eligible for auto analysis", transcriptID, equity.TradingSymbol())
		return nil
	}

	key := AnalysisKey(transcriptID, res.SourceURL, false)
	jobID, _, err := w.repo.CreateAnalysisJob(ctx, transcriptID, key, false)
	if err != nil {
		return err
	}
	req := queue.AnalysisRequest{TranscriptID: transcriptID, SourceURL: res.SourceURL, JobID: jobID}
	if err := w.broker.Publish(ctx, queue.QueueAnalysisRequest, req); err != nil {
		return err
	}
	log.Printf("[fetcher] queued analysis for %s %s FY%d (transcript %d)", equity.TradingSymbol(), row.Quarter, row.Year, transcriptID)
	return nil
}

// eligibleForAnalysis: watchlisted equities always qualify; group-only
// equities qualify when the observed quarter is the group's current target.
func (w *Worker) eligibleForAnalysis(ctx context.Context, row *models.FetchScheduleRow) (bool, error) {
	watchlisted, err := w.repo.IsWatchlisted(ctx, row.EquityID)
	if err != nil {
		return false, err
	}
	if watchlisted {
		return true, nil
	}

	inGroup, err := w.repo.InActiveGroup(ctx, row.EquityID)
	if err != nil {
		return false, err
	}
	if !inGroup {
		return false, nil
	}
	target := fiscal.Latest(time.Now().UTC())
	return target.Quarter == row.Quarter && target.Year == row.Year, nil
}

func (w *Worker) appendEvent(ctx context.Context, row *models.FetchScheduleRow, status string, sourceURL *string, eventDate *time.Time) (bool, error) {
	return w.repo.AppendEvent(ctx, models.TranscriptEvent{
		EquityID:  row.EquityID,
		Quarter:   row.Quarter,
		Year:      row.Year,
		Status:    status,
		SourceURL: sourceURL,
		EventDate: eventDate,
		Origin:    eventOriginPoll,
	})
}

// AnalysisKey derives the idempotency key for an analysis request. Forced
// requests get a timestamp component so each manual trigger is a new job.
func AnalysisKey(transcriptID int64, sourceURL string, force bool) string {
	input := fmt.Sprintf("%d:%s:%t", transcriptID, sourceURL, force)
	if force {
		input = fmt.Sprintf("%s:%d", input, time.Now().UnixNano())
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

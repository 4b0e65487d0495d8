// Package scheduler turns tracked equities into due transcript checks.
package scheduler

import (
	"context"
	"log"
	"time"

	"callscan/internal/fiscal"
	"callscan/internal/models"
	"callscan/internal/queue"
	"callscan/internal/repository"
)

// Scheduler owns the fetch_schedule table: it syncs rows from the tracked
// universe, dispatches due rows onto the transcript_check queue, and advances
// the target quarter at UTC midnight. It never calls the oracle itself.
type Scheduler struct {
	repo     *repository.Repository
	broker   *queue.Broker
	claimant string

	tickInterval time.Duration
	syncInterval time.Duration
	batchSize    int
	lease        time.Duration
}

func New(repo *repository.Repository, broker *queue.Broker, claimant string) *Scheduler {
	return &Scheduler{
		repo:         repo,
		broker:       broker,
		claimant:     claimant,
		tickInterval: time.Second,
		syncInterval: time.Minute,
		batchSize:    50,
		lease:        2 * time.Minute,
	}
}

// Start runs the dispatch, sync, and midnight loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Println("[scheduler] Starting (tick:", s.tickInterval, "sync:", s.syncInterval, ")")

	go s.syncLoop(ctx)
	go s.midnightLoop(ctx)
	go s.tickListener(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[scheduler] Stopping")
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch claims due schedule rows and publishes one transcript_check per
// row. The schedule lease stays held; the fetcher releases it when the check
// finishes.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now().UTC()
	rows, err := s.repo.ClaimDueSchedule(ctx, s.batchSize, now, s.lease, s.claimant)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[scheduler] claim due rows: %v", err)
		}
		return
	}

	for _, row := range rows {
		msg := queue.TranscriptCheck{
			ScheduleRowID: row.ID,
			EquityID:      row.EquityID,
			Quarter:       row.Quarter,
			Year:          row.Year,
		}
		if err := s.broker.Publish(ctx, queue.QueueTranscriptCheck, msg); err != nil {
			log.Printf("[scheduler] publish check for equity %d: %v", row.EquityID, err)
			// The lease expires on its own and the row becomes due again.
			continue
		}
	}
	if len(rows) > 0 {
		log.Printf("[scheduler] dispatched %d checks", len(rows))
	}
}

// syncLoop reconciles the schedule against the tracked universe once a minute.
func (s *Scheduler) syncLoop(ctx context.Context) {
	s.sync(ctx)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

func (s *Scheduler) sync(ctx context.Context) {
	now := time.Now().UTC()
	target := fiscal.Latest(now)

	created, removed, err := s.repo.SyncSchedule(ctx, target.Quarter, target.Year)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[scheduler] sync: %v", err)
		}
		return
	}
	if created > 0 || removed > 0 {
		log.Printf("[scheduler] sync %s: created=%d removed=%d", target, created, removed)
	}
	if err := s.repo.SetSetting(ctx, "scheduler_last_sync_at", now.Format(time.RFC3339)); err != nil {
		log.Printf("[scheduler] record sync time: %v", err)
	}
}

// midnightLoop advances the target quarter and retires stale rows at each UTC
// midnight. Sync itself creates the new quarter's rows; this pass only ages
// out the old ones.
func (s *Scheduler) midnightLoop(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}

		target := fiscal.Latest(time.Now().UTC())
		s.sync(ctx)

		retired, err := s.repo.RetireStaleScheduleRows(ctx, target.Quarter, target.Year)
		if err != nil {
			log.Printf("[scheduler] retire stale rows: %v", err)
			continue
		}
		if retired > 0 {
			log.Printf("[scheduler] retired %d stale schedule rows", retired)
		}
	}
}

// tickListener consumes scheduler_tick messages published by the admin
// trigger endpoint: a scoped tick forces one equity due, an unscoped tick
// forces a full sync and dispatch pass.
func (s *Scheduler) tickListener(ctx context.Context) {
	cfg := queue.ConsumerConfig{
		Queue:        queue.QueueSchedulerTick,
		BatchSize:    10,
		Lease:        time.Minute,
		PollInterval: time.Second,
	}
	err := s.broker.Consume(ctx, cfg, s.handleTick)
	if err != nil && ctx.Err() == nil {
		log.Printf("[scheduler] tick consumer stopped: %v", err)
	}
}

func (s *Scheduler) handleTick(ctx context.Context, msg models.QueueMessage) error {
	var tick queue.SchedulerTick
	if err := queue.Decode(msg, &tick); err != nil {
		return err
	}

	now := time.Now().UTC()
	target := fiscal.Latest(now)

	if tick.EquityID != 0 {
		log.Printf("[scheduler] tick: forcing equity %d due (%s)", tick.EquityID, tick.Reason)
		if err := s.repo.TriggerScheduleRow(ctx, tick.EquityID, target.Quarter, target.Year, false); err != nil {
			return queue.Retryable(err)
		}
	} else {
		log.Printf("[scheduler] tick: full pass (%s)", tick.Reason)
		s.sync(ctx)
	}

	s.dispatch(ctx)
	return nil
}

// Package recovery reclaims work a dead worker left in_progress.
package recovery

import (
	"context"
	"log"
	"time"

	"callscan/internal/queue"
	"callscan/internal/repository"
)

// Sweeper periodically resets stuck analysis reservations, analysis jobs, and
// research runs, and re-publishes the requests that drive them. It runs once
// at startup so a restarted instance picks up its predecessor's work without
// waiting for the first tick.
type Sweeper struct {
	repo   *repository.Repository
	broker *queue.Broker

	interval time.Duration
	// reservationAge and runAge must outlast the longest legitimate run so
	// a live worker's rows are never reclaimed under it.
	reservationAge time.Duration
	runAge         time.Duration
}

func NewSweeper(repo *repository.Repository, broker *queue.Broker) *Sweeper {
	return &Sweeper{
		repo:           repo,
		broker:         broker,
		interval:       2 * time.Minute,
		reservationAge: 15 * time.Minute,
		runAge:         15 * time.Minute,
	}
}

// Start sweeps immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Println("[recovery] Starting")
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[recovery] Stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cleared, err := s.repo.RecoverStaleAnalysisReservations(ctx, s.reservationAge)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[recovery] clear stale reservations: %v", err)
		}
		return
	}
	if cleared > 0 {
		log.Printf("[recovery] cleared %d stale analysis reservations", cleared)
	}

	jobs, err := s.repo.RecoverStaleAnalysisJobs(ctx)
	if err != nil {
		log.Printf("[recovery] reclaim analysis jobs: %v", err)
		return
	}
	for _, job := range jobs {
		req := queue.AnalysisRequest{TranscriptID: job.TranscriptID, Force: job.Force, JobID: job.ID}
		if err := s.broker.Publish(ctx, queue.QueueAnalysisRequest, req); err != nil {
			log.Printf("[recovery] requeue analysis job %d: %v", job.ID, err)
		}
	}
	if len(jobs) > 0 {
		log.Printf("[recovery] requeued %d analysis jobs", len(jobs))
	}

	runs, err := s.repo.RecoverStaleResearchRuns(ctx, s.runAge)
	if err != nil {
		log.Printf("[recovery] reclaim research runs: %v", err)
		return
	}
	for _, run := range runs {
		req := queue.GroupResearchRequest{GroupID: run.GroupID, Quarter: run.Quarter, Year: run.Year}
		if err := s.broker.Publish(ctx, queue.QueueGroupResearch, req); err != nil {
			log.Printf("[recovery] requeue research run %d: %v", run.ID, err)
		}
	}
	if len(runs) > 0 {
		log.Printf("[recovery] requeued %d research runs", len(runs))
	}
}

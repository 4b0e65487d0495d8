// Package analysis runs transcripts through the configured language model and
// fans the results out to email and group research.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"callscan/internal/eventbus"
	"callscan/internal/llm"
	"callscan/internal/models"
	"callscan/internal/oracle"
	"callscan/internal/queue"
	"callscan/internal/repository"
	"callscan/internal/retry"
)

const (
	jobLease         = 10 * time.Minute
	retryBackoffBase = 30 * time.Second
	retryBackoffMax  = 30 * time.Minute

	// defaultPrompt applies when neither the group nor the settings table
	// carries one.
	defaultPrompt = "Summarise this earnings call transcript for an investor: " +
		"key results, guidance changes, notable management commentary, and risks."
)

// Worker consumes analysis_request messages.
type Worker struct {
	repo    *repository.Repository
	broker  *queue.Broker
	oracle  *oracle.Client
	content *ContentStore
	bus     *eventbus.Bus
}

func NewWorker(repo *repository.Repository, broker *queue.Broker, oc *oracle.Client, store *ContentStore, bus *eventbus.Bus) *Worker {
	return &Worker{repo: repo, broker: broker, oracle: oc, content: store, bus: bus}
}

func (w *Worker) publishEvent(evtType string, transcript *models.Transcript, data interface{}) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{
		Type:     evtType,
		EquityID: transcript.EquityID,
		Quarter:  transcript.Quarter,
		Year:     transcript.Year,
		Data:     data,
	})
}

// Start consumes the analysis_request queue until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Println("[analysis] Starting")
	cfg := queue.ConsumerConfig{
		Queue:     queue.QueueAnalysisRequest,
		BatchSize: 2,
		Lease:     jobLease,
		RetryBase: retryBackoffBase,
		RetryMax:  retryBackoffMax,
	}
	if err := w.broker.Consume(ctx, cfg, w.handle); err != nil && ctx.Err() == nil {
		log.Printf("[analysis] consumer stopped: %v", err)
	}
	log.Println("[analysis] Stopping")
}

func (w *Worker) handle(ctx context.Context, msg models.QueueMessage) error {
	var req queue.AnalysisRequest
	if err := queue.Decode(msg, &req); err != nil {
		return err
	}

	transcript, err := w.repo.GetTranscriptByID(ctx, req.TranscriptID)
	if err != nil {
		return queue.Retryable(err)
	}
	if transcript == nil || transcript.Status != models.TranscriptAvailable {
		// Transcript gone or regressed; nothing to analyse.
		return nil
	}

	reserved, err := w.repo.TryReserveTranscriptAnalysis(ctx, transcript.ID, req.Force)
	if err != nil {
		return queue.Retryable(err)
	}
	if !reserved {
		if lostReservationAction(transcript.AnalysisStatus, req.Force) == resumeFanOut {
			return w.replayFanOut(ctx, transcript, req)
		}
		// Held elsewhere, or left behind by a dead worker; the recovery
		// sweep clears the latter, so come back rather than ack.
		return queue.Retryable(errors.New("analysis reservation held elsewhere"))
	}

	if req.JobID != 0 {
		started, err := w.repo.StartAnalysisJob(ctx, req.JobID, jobLease)
		if err != nil {
			return w.failTransient(ctx, transcript, req, msg.Attempts, err)
		}
		if !started {
			return w.resolveStalledJob(ctx, transcript, req)
		}
	}

	analysisID, err := w.analyse(ctx, transcript, req)
	if err != nil {
		var statusErr *llm.StatusError
		permanent := errors.As(err, &statusErr) && !statusErr.Transient()
		if permanent {
			return w.failPermanent(ctx, transcript, req, err)
		}
		return w.failTransient(ctx, transcript, req, msg.Attempts, err)
	}

	// Fan-out runs before the ack so a crash here redelivers the message
	// and the replay path finishes the job. The (analysis_id, recipient)
	// constraint keeps the rerun from double-queuing emails.
	if err := w.fanOut(ctx, transcript, analysisID); err != nil {
		return queue.Retryable(err)
	}
	return nil
}

// reservationAction is what a delivery does when it cannot reserve the
// transcript.
type reservationAction int

const (
	redeliver reservationAction = iota
	resumeFanOut
)

// lostReservationAction classifies a lost reservation. A finished analysis
// only needs its fan-out replayed before the ack; everything else means the
// reservation is held by someone (alive or dead) and the message must come
// back.
func lostReservationAction(analysisStatus *string, force bool) reservationAction {
	if analysisStatus != nil && *analysisStatus == models.AnalysisDone && !force {
		return resumeFanOut
	}
	return redeliver
}

// replayFanOut re-runs the post-analysis steps for a transcript whose
// analysis already committed: a redelivery after a crash between the result
// insert and the ack lands here.
func (w *Worker) replayFanOut(ctx context.Context, transcript *models.Transcript, req queue.AnalysisRequest) error {
	latest, err := w.repo.LatestAnalysis(ctx, transcript.ID)
	if err != nil {
		return queue.Retryable(err)
	}
	if latest == nil {
		return queue.Retryable(fmt.Errorf("transcript %d marked done without an analysis row", transcript.ID))
	}
	if req.JobID != 0 {
		if err := w.repo.FinishAnalysisJob(ctx, req.JobID); err != nil {
			return queue.Retryable(err)
		}
	}
	if err := w.fanOut(ctx, transcript, latest.ID); err != nil {
		return queue.Retryable(err)
	}
	return nil
}

// resolveStalledJob handles a reserved transcript whose job refused to start:
// the job is terminal, or its retry window has not opened yet. The transcript
// reservation is released either way so the row does not sit in_progress.
func (w *Worker) resolveStalledJob(ctx context.Context, transcript *models.Transcript, req queue.AnalysisRequest) error {
	if err := w.repo.ReleaseAnalysisReservation(ctx, transcript.ID); err != nil {
		log.Printf("[analysis] release reservation for transcript %d: %v", transcript.ID, err)
	}

	job, err := w.repo.GetAnalysisJob(ctx, req.JobID)
	if err != nil {
		return queue.Retryable(err)
	}
	switch {
	case job == nil, job.Status == models.AnalysisDead:
		return nil
	case job.Status == models.AnalysisDone:
		return w.replayFanOut(ctx, transcript, req)
	default:
		return queue.Retryable(fmt.Errorf("analysis job %d not startable (status %s)", req.JobID, job.Status))
	}
}

func (w *Worker) analyse(ctx context.Context, transcript *models.Transcript, req queue.AnalysisRequest) (int64, error) {
	text, err := w.loadContent(ctx, transcript, req.SourceURL)
	if err != nil {
		return 0, err
	}

	prompt, err := w.resolvePrompt(ctx, transcript.EquityID)
	if err != nil {
		return 0, err
	}

	model, err := w.repo.DefaultLLMModel(ctx)
	if err != nil {
		return 0, err
	}

	res, cost, err := llm.Generate(ctx, *model, prompt, text, llm.Options{})
	if err != nil {
		return 0, err
	}

	analysisID, err := w.repo.InsertAnalysis(ctx, models.TranscriptAnalysis{
		TranscriptID:   transcript.ID,
		PromptSnapshot: prompt,
		OutputText:     res.Output,
		ModelRef:       model.Ref().String(),
		TokensIn:       res.TokensIn,
		TokensOut:      res.TokensOut,
		Cost:           cost,
	})
	if err != nil {
		return 0, err
	}
	if err := w.repo.SetAnalysisOutcome(ctx, transcript.ID, models.AnalysisDone, ""); err != nil {
		return 0, err
	}
	if req.JobID != 0 {
		if err := w.repo.FinishAnalysisJob(ctx, req.JobID); err != nil {
			return 0, err
		}
	}
	log.Printf("[analysis] transcript %d analysed (analysis %d, %d/%d tokens, $%.4f)",
		transcript.ID, analysisID, res.TokensIn, res.TokensOut, cost)
	w.publishEvent(eventbus.TypeAnalysisDone, transcript, analysisID)
	return analysisID, nil
}

// fanOut queues notification emails for watchlisted equities and pokes the
// research coordinator for every active group the equity belongs to.
func (w *Worker) fanOut(ctx context.Context, transcript *models.Transcript, analysisID int64) error {
	watchlisted, err := w.repo.IsWatchlisted(ctx, transcript.EquityID)
	if err != nil {
		return err
	}
	if watchlisted {
		recipients, err := w.repo.ActiveRecipients(ctx)
		if err != nil {
			return err
		}
		if len(recipients) > 0 {
			inserted, err := w.repo.InsertOutboxRows(ctx, analysisID, recipients)
			if err != nil {
				return err
			}
			if inserted > 0 {
				log.Printf("[analysis] queued %d emails for analysis %d", inserted, analysisID)
			}
		}
	}

	groups, err := w.repo.ActiveGroupsForEquity(ctx, transcript.EquityID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		req := queue.GroupResearchRequest{
			GroupID: g.ID,
			Quarter: transcript.Quarter,
			Year:    transcript.Year,
		}
		if err := w.broker.Publish(ctx, queue.QueueGroupResearch, req); err != nil {
			return err
		}
	}
	return nil
}

// loadContent returns the transcript text, downloading and caching the body
// when it is not already on disk.
func (w *Worker) loadContent(ctx context.Context, transcript *models.Transcript, sourceURL string) (string, error) {
	if sourceURL == "" && transcript.SourceURL != nil {
		sourceURL = *transcript.SourceURL
	}
	if sourceURL == "" {
		return "", fmt.Errorf("transcript %d has no source url", transcript.ID)
	}

	path := w.content.Path(transcript.ID, sourceURL)
	if transcript.ContentPath != nil && *transcript.ContentPath != "" {
		path = *transcript.ContentPath
	}

	body, err := w.content.Read(path)
	if err != nil {
		return "", err
	}
	if body == nil {
		body, err = w.oracle.FetchContent(ctx, sourceURL)
		if err != nil {
			return "", err
		}
		path = w.content.Path(transcript.ID, sourceURL)
		if err := w.content.Write(path, body); err != nil {
			return "", err
		}
		if err := w.repo.SetContentPath(ctx, transcript.ID, path); err != nil {
			return "", err
		}
	}

	text := ExtractText(body)
	if text == "" {
		return "", fmt.Errorf("transcript %d body is empty after extraction", transcript.ID)
	}
	return text, nil
}

// resolvePrompt prefers the first active group with a stock summary prompt,
// then the settings default, then the built-in.
func (w *Worker) resolvePrompt(ctx context.Context, equityID int64) (string, error) {
	groups, err := w.repo.ActiveGroupsForEquity(ctx, equityID)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.StockSummaryPrompt != "" {
			return g.StockSummaryPrompt, nil
		}
	}

	configured, err := w.repo.Setting(ctx, "default_stock_summary_prompt")
	if err != nil {
		return "", err
	}
	if configured != "" {
		return configured, nil
	}
	return defaultPrompt, nil
}

func (w *Worker) failTransient(ctx context.Context, transcript *models.Transcript, req queue.AnalysisRequest, attempts int, cause error) error {
	if err := w.repo.ReleaseAnalysisReservation(ctx, transcript.ID); err != nil {
		log.Printf("[analysis] release reservation for transcript %d: %v", transcript.ID, err)
	}
	if req.JobID != 0 {
		// Matches the queue's redelivery delay so the redelivered message
		// finds the job's retry window already open.
		retryAt := time.Now().UTC().Add(retry.Backoff(attempts-1, retryBackoffBase, retryBackoffMax))
		if err := w.repo.RetryAnalysisJob(ctx, req.JobID, retryAt, cause.Error()); err != nil {
			log.Printf("[analysis] record retry for job %d: %v", req.JobID, err)
		}
	}

	// The queue decides between redelivery and dead-letter; mirror the
	// terminal outcome on the transcript and job when attempts run out.
	if queue.Exhausted(queue.QueueAnalysisRequest, attempts) {
		if err := w.repo.SetAnalysisOutcome(ctx, transcript.ID, models.AnalysisError, cause.Error()); err != nil {
			log.Printf("[analysis] mark transcript %d errored: %v", transcript.ID, err)
		}
		if req.JobID != 0 {
			if err := w.repo.DeadAnalysisJob(ctx, req.JobID, cause.Error()); err != nil {
				log.Printf("[analysis] mark job %d dead: %v", req.JobID, err)
			}
		}
		w.publishEvent(eventbus.TypeAnalysisFailed, transcript, cause.Error())
	}
	return queue.Retryable(cause)
}

func (w *Worker) failPermanent(ctx context.Context, transcript *models.Transcript, req queue.AnalysisRequest, cause error) error {
	if err := w.repo.SetAnalysisOutcome(ctx, transcript.ID, models.AnalysisError, cause.Error()); err != nil {
		log.Printf("[analysis] mark transcript %d errored: %v", transcript.ID, err)
	}
	if req.JobID != 0 {
		if err := w.repo.DeadAnalysisJob(ctx, req.JobID, cause.Error()); err != nil {
			log.Printf("[analysis] mark job %d dead: %v", req.JobID, err)
		}
	}
	w.publishEvent(eventbus.TypeAnalysisFailed, transcript, cause.Error())
	return cause
}

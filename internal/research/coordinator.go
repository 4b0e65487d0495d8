// Package research composes per-group articles once every member's transcript
// analysis has landed.
package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"callscan/internal/email"
	"callscan/internal/eventbus"
	"callscan/internal/fiscal"
	"callscan/internal/llm"
	"callscan/internal/models"
	"callscan/internal/queue"
	"callscan/internal/repository"
)

const (
	sweepInterval = 10 * time.Minute

	defaultResearchPrompt = "Write a research article covering this group of companies " +
		"for the quarter, drawing on the per-company transcript analyses below. " +
		"Compare results, common themes, and diverging outlooks."
)

// Coordinator consumes group_research_request messages and runs a periodic
// sweep over active groups.
type Coordinator struct {
	repo   *repository.Repository
	broker *queue.Broker
	sender email.Sender
	bus    *eventbus.Bus
}

func NewCoordinator(repo *repository.Repository, broker *queue.Broker, sender email.Sender, bus *eventbus.Bus) *Coordinator {
	return &Coordinator{repo: repo, broker: broker, sender: sender, bus: bus}
}

// Start runs the consumer and the sweep loop until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	log.Println("[research] Starting")
	go c.sweepLoop(ctx)

	cfg := queue.ConsumerConfig{
		Queue:     queue.QueueGroupResearch,
		BatchSize: 5,
		Lease:     10 * time.Minute,
	}
	if err := c.broker.Consume(ctx, cfg, c.handle); err != nil && ctx.Err() == nil {
		log.Printf("[research] consumer stopped: %v", err)
	}
	log.Println("[research] Stopping")
}

func (c *Coordinator) handle(ctx context.Context, msg models.QueueMessage) error {
	var req queue.GroupResearchRequest
	if err := queue.Decode(msg, &req); err != nil {
		return err
	}

	group, err := c.repo.GetGroup(ctx, req.GroupID)
	if err != nil {
		return queue.Retryable(err)
	}
	if group == nil || !group.IsActive {
		return nil
	}

	if err := c.evaluate(ctx, group, req.Quarter, req.Year, req.Force); err != nil {
		return queue.Retryable(err)
	}
	return nil
}

// evaluate checks fan-in for one group and quarter, and composes the article
// when the run can start. Force skips the readiness check and re-opens done
// runs; without force a done run stays frozen.
func (c *Coordinator) evaluate(ctx context.Context, group *models.Group, quarter string, year int, force bool) error {
	readiness, err := c.repo.GroupReadinessFor(ctx, group.ID, quarter, year)
	if err != nil {
		return err
	}
	if !force && !readiness.Ready() {
		log.Printf("[research] group %d %s FY%d not ready: %d/%d available, %d analysed",
			group.ID, quarter, year, readiness.Available, readiness.Members, readiness.Analyzed)
		return nil
	}

	var runID int64
	if force {
		runID, err = c.repo.ReopenResearchRun(ctx, group.ID, quarter, year)
	} else {
		runID, _, err = c.repo.CreateResearchRun(ctx, group.ID, quarter, year)
	}
	if err != nil {
		return err
	}

	started, err := c.repo.TryStartResearchRun(ctx, runID)
	if err != nil {
		return err
	}
	if !started {
		// Done or already in progress; either way the run is spoken for.
		return nil
	}

	if err := c.compose(ctx, group, runID, quarter, year, force); err != nil {
		if failErr := c.repo.FailResearchRun(ctx, runID, err.Error()); failErr != nil {
			log.Printf("[research] mark run %d failed: %v", runID, failErr)
		}
		var statusErr *llm.StatusError
		if errors.As(err, &statusErr) && !statusErr.Transient() {
			log.Printf("[research] run %d failed permanently: %v", runID, err)
			return nil
		}
		return err
	}
	return nil
}

// compose gathers member analyses, runs the deep research prompt, stores the
// article, and queues it to the notification list.
func (c *Coordinator) compose(ctx context.Context, group *models.Group, runID int64, quarter string, year int, force bool) error {
	members, err := c.repo.GroupMembers(ctx, group.ID)
	if err != nil {
		return err
	}
	analyses, err := c.repo.MemberAnalysesFor(ctx, group.ID, quarter, year)
	if err != nil {
		return err
	}
	if len(analyses) == 0 {
		return fmt.Errorf("group %d has no analyses for %s FY%d", group.ID, quarter, year)
	}

	input := buildInput(members, analyses, quarter, year, force)

	prompt := group.DeepResearchPrompt
	if prompt == "" {
		prompt = defaultResearchPrompt
	}

	model, err := c.repo.DefaultLLMModel(ctx)
	if err != nil {
		return err
	}
	res, _, err := llm.Generate(ctx, *model, prompt, input, llm.Options{})
	if err != nil {
		return err
	}

	if err := c.repo.FinishResearchRun(ctx, runID, prompt, res.Output, model.Ref().String()); err != nil {
		return err
	}
	log.Printf("[research] composed article for group %d %s FY%d (run %d)", group.ID, quarter, year, runID)
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{
			Type:    eventbus.TypeResearchDone,
			GroupID: group.ID,
			Quarter: quarter,
			Year:    year,
			Data:    runID,
		})
	}

	c.notify(ctx, group, models.GroupResearchRun{
		ID: runID, GroupID: group.ID, Quarter: quarter, Year: year,
		OutputText: res.Output, ModelRef: model.Ref().String(),
	})
	return nil
}

// notify mails the finished article to the notification list. Delivery here
// is best-effort: the article itself is already durable on the run row.
func (c *Coordinator) notify(ctx context.Context, group *models.Group, run models.GroupResearchRun) {
	settings, err := c.repo.ActiveSMTPSettings(ctx)
	if err != nil || settings == nil {
		if err != nil {
			log.Printf("[research] load smtp settings: %v", err)
		}
		return
	}
	recipients, err := c.repo.ActiveRecipients(ctx)
	if err != nil {
		log.Printf("[research] load recipients: %v", err)
		return
	}

	subject := fmt.Sprintf("%s %s FY%d research article", group.Name, run.Quarter, run.Year)
	body := email.RenderArticle(*group, run)
	for _, rcpt := range recipients {
		if err := c.sender.Send(*settings, rcpt, subject, body); err != nil {
			log.Printf("[research] send article for run %d to %s: %v", run.ID, rcpt, err)
		}
	}
}

// buildInput assembles the member analyses into one document, member order
// fixed by symbol so regenerated articles see identical input.
func buildInput(members []models.Equity, analyses map[int64]models.TranscriptAnalysis, quarter string, year int, skipMissing bool) string {
	sorted := make([]models.Equity, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TradingSymbol() < sorted[j].TradingSymbol()
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Quarter: %s FY%d\n\n", quarter, year)
	for _, m := range sorted {
		a, ok := analyses[m.ID]
		if !ok {
			if skipMissing {
				continue
			}
			fmt.Fprintf(&b, "## %s\n(no analysis available)\n\n", m.TradingSymbol())
			continue
		}
		name := m.Name
		if name == "" {
			name = m.TradingSymbol()
		}
		fmt.Fprintf(&b, "## %s (%s)\n%s\n\n", name, m.TradingSymbol(), a.OutputText)
	}
	return b.String()
}

// sweepLoop periodically re-evaluates every active group for the current
// target quarter, picking up runs missed while the process was down.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	groups, err := c.repo.ListActiveGroups(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[research] sweep list groups: %v", err)
		}
		return
	}

	target := fiscal.Latest(time.Now().UTC())
	for _, g := range groups {
		req := queue.GroupResearchRequest{GroupID: g.ID, Quarter: target.Quarter, Year: target.Year}
		if err := c.broker.Publish(ctx, queue.QueueGroupResearch, req); err != nil {
			log.Printf("[research] sweep publish for group %d: %v", g.ID, err)
		}
	}
}

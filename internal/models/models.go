package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Equity represents the 'equities' table. Identifier is the external id
// (ISIN or similar) and is unique across the universe.
type Equity struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	AltCode    string    `json:"alt_code"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TradingSymbol returns the symbol used against the oracle, falling back to
// the exchange alt code when the primary symbol is empty.
func (e Equity) TradingSymbol() string {
	if e.Symbol != "" {
		return e.Symbol
	}
	return e.AltCode
}

type WatchlistItem struct {
	EquityID int64     `json:"equity_id"`
	AddedAt  time.Time `json:"added_at"`
}

type Group struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	DeepResearchPrompt string    `json:"deep_research_prompt"`
	StockSummaryPrompt string    `json:"stock_summary_prompt"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type GroupMembership struct {
	GroupID   int64     `json:"group_id"`
	EquityID  int64     `json:"equity_id"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transcript statuses.
const (
	TranscriptNone      = "none"
	TranscriptUpcoming  = "upcoming"
	TranscriptAvailable = "available"
)

// Analysis statuses, shared by transcripts.analysis_status and analysis_jobs.status.
const (
	AnalysisPending    = "pending"
	AnalysisInProgress = "in_progress"
	AnalysisDone       = "done"
	AnalysisError      = "error"
	AnalysisDead       = "dead"
)

type Transcript struct {
	ID             int64      `json:"id"`
	EquityID       int64      `json:"equity_id"`
	Quarter        string     `json:"quarter"`
	Year           int        `json:"year"`
	SourceURL      *string    `json:"source_url,omitempty"`
	ContentPath    *string    `json:"content_path,omitempty"`
	Status         string     `json:"status"`
	EventDate      *time.Time `json:"event_date,omitempty"`
	AnalysisStatus *string    `json:"analysis_status,omitempty"`
	AnalysisError  *string    `json:"analysis_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TranscriptEvent is an append-only observation from the oracle (or a manual
// trigger). Unique per (equity, quarter, year, source_url) when the URL is set.
type TranscriptEvent struct {
	ID         int64      `json:"id"`
	EquityID   int64      `json:"equity_id"`
	Quarter    string     `json:"quarter"`
	Year       int        `json:"year"`
	Status     string     `json:"status"`
	SourceURL  *string    `json:"source_url,omitempty"`
	EventDate  *time.Time `json:"event_date,omitempty"`
	Origin     string     `json:"origin"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Scheduler priority lanes. Lower wins.
const (
	PriorityWatchlist      = 10
	PriorityGroupOnly      = 20
	PriorityReconciliation = 90
	PriorityRetired        = 99
)

type FetchScheduleRow struct {
	ID              int64      `json:"id"`
	EquityID        int64      `json:"equity_id"`
	Quarter         string     `json:"quarter"`
	Year            int        `json:"year"`
	Priority        int        `json:"priority"`
	NextCheckAt     time.Time  `json:"next_check_at"`
	LastStatus      string     `json:"last_status"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	LastAvailableAt *time.Time `json:"last_available_at,omitempty"`
	Attempts        int        `json:"attempts"`
	LockedUntil     time.Time  `json:"locked_until"`
	LockedBy        string     `json:"locked_by,omitempty"`
}

type QueueMessage struct {
	ID          int64           `json:"id"`
	QueueName   string          `json:"queue_name"`
	Payload     json.RawMessage `json:"payload"`
	AvailableAt time.Time       `json:"available_at"`
	LockedUntil time.Time       `json:"locked_until"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AnalysisJob struct {
	ID             int64      `json:"id"`
	TranscriptID   int64      `json:"transcript_id"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	IdempotencyKey string     `json:"idempotency_key"`
	Force          bool       `json:"force"`
	RetryNextAt    *time.Time `json:"retry_next_at,omitempty"`
	LockedUntil    time.Time  `json:"locked_until"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ModelRef is a stable identifier for the model that produced an output.
type ModelRef struct {
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`
	Revision string `json:"revision,omitempty"`
}

func (m ModelRef) String() string {
	if m.Revision == "" {
		return fmt.Sprintf("%s/%s", m.Provider, m.ModelID)
	}
	return fmt.Sprintf("%s/%s@%s", m.Provider, m.ModelID, m.Revision)
}

type TranscriptAnalysis struct {
	ID             int64     `json:"id"`
	TranscriptID   int64     `json:"transcript_id"`
	PromptSnapshot string    `json:"prompt_snapshot"`
	OutputText     string    `json:"output_text"`
	ModelRef       string    `json:"model_ref"`
	TokensIn       int64     `json:"tokens_in"`
	TokensOut      int64     `json:"tokens_out"`
	Cost           float64   `json:"cost"`
	CreatedAt      time.Time `json:"created_at"`
}

// Outbox statuses.
const (
	OutboxPending    = "pending"
	OutboxInProgress = "in_progress"
	OutboxSent       = "sent"
	OutboxFailed     = "failed"
	OutboxDead       = "dead"
)

type OutboxRow struct {
	ID          int64      `json:"id"`
	AnalysisID  int64      `json:"analysis_id"`
	Recipient   string     `json:"recipient"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	RetryNextAt *time.Time `json:"retry_next_at,omitempty"`
	LockedUntil time.Time  `json:"locked_until"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Research run statuses.
const (
	ResearchPending    = "pending"
	ResearchInProgress = "in_progress"
	ResearchDone       = "done"
	ResearchError      = "error"
)

type GroupResearchRun struct {
	ID             int64     `json:"id"`
	GroupID        int64     `json:"group_id"`
	Quarter        string    `json:"quarter"`
	Year           int       `json:"year"`
	Status         string    `json:"status"`
	PromptSnapshot string    `json:"prompt_snapshot"`
	OutputText     string    `json:"output_text"`
	ModelRef       string    `json:"model_ref"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Recipient struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

type SMTPSettings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	AppPassword string `json:"-"`
	FromAddress string `json:"from_address"`
}

type LLMModel struct {
	ID               int64   `json:"id"`
	Provider         string  `json:"provider"`
	ModelID          string  `json:"model_id"`
	Revision         string  `json:"revision"`
	APIKey           string  `json:"-"`
	IsActive         bool    `json:"is_active"`
	IsDefault        bool    `json:"is_default"`
	MaxOutputTokens  int     `json:"max_output_tokens"`
	SupportsThinking bool    `json:"supports_thinking"`
	CostPer1MInput   float64 `json:"cost_per_1m_input"`
	CostPer1MOutput  float64 `json:"cost_per_1m_output"`
}

// Ref returns the stable model reference for persistence.
func (m LLMModel) Ref() ModelRef {
	return ModelRef{Provider: m.Provider, ModelID: m.ModelID, Revision: m.Revision}
}

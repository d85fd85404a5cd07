// Package domain holds the core entities shared across the pipeline:
// posts, per-post analyses, generated scenarios, the token usage ledger
// and notification records.
package domain

import "time"

// RunStatus tracks a post's progress through the processing pipeline.
type RunStatus string

const (
	RunStatusNew        RunStatus = "new"
	RunStatusClaimed    RunStatus = "claimed"
	RunStatusFiltering  RunStatus = "filtering"
	RunStatusAnalyzing  RunStatus = "analyzing"
	RunStatusGenerating RunStatus = "generating"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the run status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Stage is one discrete LLM-backed step within a post's pipeline run.
type Stage string

const (
	StageFilter   Stage = "filter"
	StageAnalyze  Stage = "analyze"
	StageGenerate Stage = "generate_scenario"

	// StageCorrection marks compensating ledger records. It is never
	// executed against a model.
	StageCorrection Stage = "correction"
)

// Post is an immutable record produced by the ingestion side.
// The pipeline only touches the denormalized score and the processing
// claim fields; everything else is owned by the ingester.
type Post struct {
	ID          string
	ChannelID   string
	OwnerUserID int64
	TGMessageID int64
	Text        string
	Views       int
	Reactions   int
	Replies     int
	Forwards    int
	Score       float32
	Status      RunStatus
	ClaimedAt   *time.Time
	IngestedAt  time.Time
}

// ChannelStats carries channel-level normalization context for scoring.
type ChannelStats struct {
	ChannelID   string
	AvgViews    float64
	SampleCount int
}

// PostAnalysis records per-stage LLM outputs for a single post run.
// Stages are append-only: once a stage timestamp is set it is never
// overwritten.
type PostAnalysis struct {
	ID             string
	PostID         string
	FilterRelevant *bool
	FilterReason   string
	FilteredAt     *time.Time
	Summary        string
	Insight        string
	Theme          string
	AnalyzedAt     *time.Time
	FailureReason  string
	FailedAt       *time.Time
	CreatedAt      time.Time
}

// ScenarioStatus is the approval lifecycle state of a scenario.
type ScenarioStatus string

const (
	ScenarioStatusDraft     ScenarioStatus = "draft"
	ScenarioStatusApproved  ScenarioStatus = "approved"
	ScenarioStatusPublished ScenarioStatus = "published"
)

// Valid reports whether the status is a known lifecycle state.
func (s ScenarioStatus) Valid() bool {
	switch s {
	case ScenarioStatusDraft, ScenarioStatusApproved, ScenarioStatusPublished:
		return true
	default:
		return false
	}
}

// Segment is one scripted beat of a scenario: what is said, what is
// shown, and the voiceover line.
type Segment struct {
	Text      string `json:"text"`
	Visual    string `json:"visual"`
	Voiceover string `json:"voiceover"`
}

// Scenario is a structured short-video script generated from a post.
type Scenario struct {
	ID          string
	PostID      string
	Title       string
	DurationSec int
	Hook        Segment
	Insight     Segment
	Steps       []Segment
	CTA         Segment
	Hashtags    []string
	Music       string
	Status      ScenarioStatus
	CreatedAt   time.Time
}

// ScenarioAudit logs a lifecycle transition, including administrative
// overrides with the actor and reason.
type ScenarioAudit struct {
	ID         string
	ScenarioID string
	FromStatus ScenarioStatus
	ToStatus   ScenarioStatus
	Actor      string
	Reason     string
	Override   bool
	CreatedAt  time.Time
}

// TokenUsageRecord is one append-only ledger entry per model call,
// including failed calls that still consumed tokens.
type TokenUsageRecord struct {
	ID               string
	PostID           string
	Stage            Stage
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Success          bool
	CreatedAt        time.Time
}

// NotificationStatus is the delivery state of one notification attempt.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationSetting is a per-user delivery target.
type NotificationSetting struct {
	ID     string
	UserID int64
	ChatID int64
	Active bool
}

// NotificationHistory is one delivery attempt. Retries create new
// records rather than mutating old ones.
type NotificationHistory struct {
	ID        string
	Type      string
	SettingID string
	ChatID    int64
	Content   string
	Status    NotificationStatus
	Error     string
	PostID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification event types.
const (
	NotificationTypeCompleted = "processing_complete"
	NotificationTypeFailed    = "processing_failed"
	NotificationTypePublished = "scenario_published"
)

package llm

import (
	"context"

	"github.com/avolkov/reelpipe/internal/core/domain"
)

// ModelConfig selects the model and sampling parameters for one stage call.
type ModelConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// CompletionRequest is a single prompt-in, structured-text-out model call.
type CompletionRequest struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Prompt      string
}

// CompletionResponse carries the model output and provider-reported token
// counts. Reached is true when the request made it to the provider, even
// if the call ultimately failed: a reached call must still be ledgered.
type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Reached          bool
}

// Provider executes completions against one external model API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// FilterResult is the validated payload of the filter stage.
type FilterResult struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

// AnalysisResult is the validated payload of the deep-analysis stage.
type AnalysisResult struct {
	Summary string `json:"summary"`
	Insight string `json:"insight"`
	Theme   string `json:"theme"`
}

// ScenarioPayload is the validated payload of the scenario-generation
// stage, mirroring the Scenario sub-structures.
type ScenarioPayload struct {
	Title       string           `json:"title"`
	DurationSec int              `json:"duration_sec"`
	Hook        domain.Segment   `json:"hook"`
	Insight     domain.Segment   `json:"insight"`
	Steps       []domain.Segment `json:"steps"`
	CTA         domain.Segment   `json:"cta"`
	Hashtags    []string         `json:"hashtags"`
	Music       string           `json:"music"`
}

// StageUsage reports token consumption of one stage, summed over attempts.
type StageUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Calls            int
}

// UsageLedger is the append-only write path for per-call usage records.
type UsageLedger interface {
	RecordUsage(ctx context.Context, rec *domain.TokenUsageRecord) error
}

// PromptStore supplies prompt template overrides from the settings table.
type PromptStore interface {
	GetSetting(ctx context.Context, key string, target interface{}) error
}

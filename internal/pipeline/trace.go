package pipeline

import (
	"context"

	"github.com/avolkov/reelpipe/internal/core/domain"
	"github.com/avolkov/reelpipe/internal/core/llm"
)

// StageTrace records one stage's outcome for the debug entry point.
type StageTrace struct {
	Stage            domain.Stage `json:"stage"`
	Error            string       `json:"error,omitempty"`
	Model            string       `json:"model"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	CostUSD          float64      `json:"cost_usd"`
	Calls            int          `json:"calls"`
}

// Trace is the full per-stage record of one ad-hoc run.
type Trace struct {
	PostID   string           `json:"post_id"`
	Status   domain.RunStatus `json:"status"`
	Stages   []StageTrace     `json:"stages"`
	Scenario *domain.Scenario `json:"scenario,omitempty"`
}

// record is nil-safe so the unattended path pays nothing for tracing.
func (t *Trace) record(stage domain.Stage, usage llm.StageUsage, err error) {
	if t == nil {
		return
	}

	st := StageTrace{
		Stage:            stage,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          usage.CostUSD,
		Calls:            usage.Calls,
	}
	if err != nil {
		st.Error = err.Error()
	}

	t.Stages = append(t.Stages, st)
}

func (t *Trace) setScenario(s *domain.Scenario) {
	if t == nil {
		return
	}

	t.Scenario = s
}

// RunOne executes the pipeline for a single post right now and returns
// every intermediate stage for inspection. This is the human-triggered
// counterpart to the unattended batch path; it goes through the same
// claim and commit machinery, so quotas and ledgering apply unchanged.
func (o *Orchestrator) RunOne(ctx context.Context, postID string) (*Trace, error) {
	trace := &Trace{PostID: postID}

	status, err := o.process(ctx, postID, trace)
	if err != nil {
		return trace, err
	}

	trace.Status = status

	return trace, nil
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
	"github.com/avolkov/reelpipe/internal/platform/observability"
)

const (
	defaultCallTimeout = 90 * time.Second
	ledgerWriteTimeout = 5 * time.Second

	statusSuccess = "success"
	statusError   = "error"

	usdToMillicents = 100000.0
)

// StageRunner executes exactly one named pipeline stage against the model
// provider and returns a validated, stage-appropriate result or a typed
// failure. Every attempt that reaches the provider writes exactly one
// usage record, success or not.
type StageRunner struct {
	provider    Provider
	ledger      UsageLedger
	budget      *BudgetGuard
	prompts     PromptStore
	retry       RetryPolicy
	callTimeout time.Duration
	logger      *zerolog.Logger
}

// NewStageRunner wires a runner. The ledger is required; budget and
// prompt store may be nil (no cap, default prompts).
func NewStageRunner(provider Provider, ledger UsageLedger, budget *BudgetGuard, prompts PromptStore, retry RetryPolicy, callTimeout time.Duration, logger *zerolog.Logger) *StageRunner {
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool {
			return errors.Is(err, apperrors.ErrModelUnavailable)
		}
	}

	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &StageRunner{
		provider:    provider,
		ledger:      ledger,
		budget:      budget,
		prompts:     prompts,
		retry:       retry,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// RunFilter decides whether a post is worth full processing.
func (r *StageRunner) RunFilter(ctx context.Context, postID, postText string, cfg ModelConfig) (FilterResult, StageUsage, error) {
	template := loadPrompt(ctx, r.prompts, r.logger, promptKeyFilter, defaultFilterPrompt)
	prompt := renderPrompt(template, map[string]string{"post_text": postText})

	content, usage, err := r.call(ctx, domain.StageFilter, postID, prompt, cfg)
	if err != nil {
		return FilterResult{}, usage, err
	}

	var result FilterResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return FilterResult{}, usage, fmt.Errorf("%w: parse filter payload: %v", apperrors.ErrInvalidResponse, err)
	}

	return result, usage, nil
}

// RunAnalysis extracts the scriptwriting material from a relevant post.
func (r *StageRunner) RunAnalysis(ctx context.Context, postID, postText string, cfg ModelConfig) (AnalysisResult, StageUsage, error) {
	template := loadPrompt(ctx, r.prompts, r.logger, promptKeyAnalyze, defaultAnalyzePrompt)
	prompt := renderPrompt(template, map[string]string{"post_text": postText})

	content, usage, err := r.call(ctx, domain.StageAnalyze, postID, prompt, cfg)
	if err != nil {
		return AnalysisResult{}, usage, err
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return AnalysisResult{}, usage, fmt.Errorf("%w: parse analysis payload: %v", apperrors.ErrInvalidResponse, err)
	}

	if err := ValidateAnalysis(&result); err != nil {
		return AnalysisResult{}, usage, err
	}

	return result, usage, nil
}

// RunGenerate produces the full scenario payload from a completed
// analysis. The payload is structurally validated; an invalid payload is
// a stage failure, never an automatic regeneration.
func (r *StageRunner) RunGenerate(ctx context.Context, postID, postText string, analysis AnalysisResult, cfg ModelConfig) (ScenarioPayload, StageUsage, error) {
	template := loadPrompt(ctx, r.prompts, r.logger, promptKeyGenerate, defaultGeneratePrompt)
	prompt := renderPrompt(template, map[string]string{
		"post_text": postText,
		"summary":   analysis.Summary,
		"insight":   analysis.Insight,
		"theme":     analysis.Theme,
	})

	content, usage, err := r.call(ctx, domain.StageGenerate, postID, prompt, cfg)
	if err != nil {
		return ScenarioPayload{}, usage, err
	}

	var payload ScenarioPayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &payload); err != nil {
		return ScenarioPayload{}, usage, fmt.Errorf("%w: parse scenario payload: %v", apperrors.ErrInvalidResponse, err)
	}

	if err := ValidateScenario(&payload); err != nil {
		return ScenarioPayload{}, usage, err
	}

	return payload, usage, nil
}

// call dispatches one stage with retry on transient failures. The budget
// is checked before each dispatch, never mid-call: an in-flight call is
// allowed to complete so its charge is ledgered.
func (r *StageRunner) call(ctx context.Context, stage domain.Stage, postID, prompt string, cfg ModelConfig) (string, StageUsage, error) {
	usage := StageUsage{Model: cfg.Model}

	var content string

	started := time.Now()

	err := r.retry.Do(ctx, func(ctx context.Context) error {
		if r.budget != nil {
			if err := r.budget.Check(); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		resp, err := r.provider.Complete(callCtx, CompletionRequest{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Prompt:      prompt,
		})

		if resp.Reached {
			r.recordAttempt(ctx, stage, postID, cfg.Model, resp, err == nil, &usage)
		}

		if err != nil {
			observability.LLMRequests.WithLabelValues(cfg.Model, string(stage), statusError).Inc()

			return err
		}

		observability.LLMRequests.WithLabelValues(cfg.Model, string(stage), statusSuccess).Inc()

		content = resp.Content

		return nil
	})

	observability.StageDurationSeconds.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())

	if err != nil {
		return "", usage, err
	}

	return content, usage, nil
}

// recordAttempt ledgers one reached model call and updates metrics,
// budget and the per-stage usage sum. Cost is never lost: the write uses
// a context that survives run cancellation.
func (r *StageRunner) recordAttempt(ctx context.Context, stage domain.Stage, postID, model string, resp CompletionResponse, success bool, usage *StageUsage) {
	cost := EstimateCost(model, resp.PromptTokens, resp.CompletionTokens)

	usage.PromptTokens += resp.PromptTokens
	usage.CompletionTokens += resp.CompletionTokens
	usage.CostUSD += cost
	usage.Calls++

	if r.budget != nil {
		r.budget.Record(resp.PromptTokens + resp.CompletionTokens)
	}

	observability.LLMTokensPrompt.WithLabelValues(model, string(stage)).Add(float64(resp.PromptTokens))
	observability.LLMTokensCompletion.WithLabelValues(model, string(stage)).Add(float64(resp.CompletionTokens))
	observability.LLMCostMillicents.WithLabelValues(model, string(stage)).Add(cost * usdToMillicents)

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	rec := &domain.TokenUsageRecord{
		PostID:           postID,
		Stage:            stage,
		Provider:         r.provider.Name(),
		Model:            model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          cost,
		Success:          success,
	}

	if err := r.ledger.RecordUsage(ledgerCtx, rec); err != nil {
		r.logger.Error().Err(err).
			Str("post_id", postID).
			Str("stage", string(stage)).
			Msg("failed to ledger token usage")
	}
}

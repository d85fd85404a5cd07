// Package pipeline drives a post's run through the LLM stages: claim,
// filter, analyze, generate, and a terminal commit with notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
	"github.com/avolkov/reelpipe/internal/core/llm"
	"github.com/avolkov/reelpipe/internal/platform/observability"
	db "github.com/avolkov/reelpipe/internal/storage"
)

// Repository is the storage surface the orchestrator needs.
type Repository interface {
	GetPost(ctx context.Context, id string) (*domain.Post, error)
	// ClaimPost atomically moves a post from new to claimed and consumes
	// one unit of the channel's daily quota, enforcing the cap inside
	// the claim transaction. Returns ErrConflict when another worker
	// holds the claim, ErrAlreadyTerminal when the run already finished,
	// ErrQuotaExceeded when the channel's daily quota is spent.
	ClaimPost(ctx context.Context, id string, quota int) error
	// AdvanceRun CAS-moves the post's run status. Returns ErrConflict
	// when the current status is not the expected one.
	AdvanceRun(ctx context.Context, postID string, from, to domain.RunStatus) error
	RecoverStuckRuns(ctx context.Context, olderThan time.Duration) (int64, error)

	EnsureAnalysis(ctx context.Context, postID string) (*domain.PostAnalysis, error)
	RecordFilterStage(ctx context.Context, postID string, relevant bool, reason string) error
	RecordAnalyzeStage(ctx context.Context, postID, summary, insight, theme string) error
	RecordRunFailure(ctx context.Context, postID, reason string) error

	SaveScenario(ctx context.Context, scenario *domain.Scenario) error
}

var _ Repository = (*db.DB)(nil)

// StageRunner executes one named LLM stage. Implemented by llm.StageRunner.
type StageRunner interface {
	RunFilter(ctx context.Context, postID, postText string, cfg llm.ModelConfig) (llm.FilterResult, llm.StageUsage, error)
	RunAnalysis(ctx context.Context, postID, postText string, cfg llm.ModelConfig) (llm.AnalysisResult, llm.StageUsage, error)
	RunGenerate(ctx context.Context, postID, postText string, analysis llm.AnalysisResult, cfg llm.ModelConfig) (llm.ScenarioPayload, llm.StageUsage, error)
}

// EventSink receives pipeline completion events for notification.
type EventSink interface {
	PipelineCompleted(ctx context.Context, post *domain.Post, scenario *domain.Scenario)
	PipelineFailed(ctx context.Context, post *domain.Post, reason string)
	ScenarioPublished(ctx context.Context, scenario *domain.Scenario)
}

// Config fixes per-stage model parameters, the per-channel admission
// cap and the staleness threshold for reclaiming crashed runs.
type Config struct {
	FilterModel         llm.ModelConfig
	AnalyzeModel        llm.ModelConfig
	GenerateModel       llm.ModelConfig
	ChannelDailyQuota   int
	StaleClaimThreshold time.Duration
}

type Orchestrator struct {
	cfg    Config
	repo   Repository
	runner StageRunner
	events EventSink
	logger *zerolog.Logger
}

func NewOrchestrator(cfg Config, repo Repository, runner StageRunner, events EventSink, logger *zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		repo:   repo,
		runner: runner,
		events: events,
		logger: logger,
	}
}

// Process executes one full run for the post. Terminal posts are a
// no-op; a lost claim race surfaces as ErrConflict so the loser backs
// off and re-selects.
func (o *Orchestrator) Process(ctx context.Context, postID string) (domain.RunStatus, error) {
	return o.process(ctx, postID, nil)
}

func (o *Orchestrator) process(ctx context.Context, postID string, trace *Trace) (domain.RunStatus, error) {
	post, err := o.repo.GetPost(ctx, postID)
	if err != nil {
		return "", fmt.Errorf("get post: %w", err)
	}

	if post.Status.Terminal() {
		return post.Status, nil
	}

	if err := o.repo.ClaimPost(ctx, postID, o.cfg.ChannelDailyQuota); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyTerminal) {
			return post.Status, nil
		}

		return "", err
	}

	started := time.Now()
	logger := o.logger.With().
		Str("run_id", uuid.NewString()).
		Str("post_id", postID).
		Str("channel_id", post.ChannelID).
		Logger()

	status, err := o.runStages(ctx, &logger, post, trace)

	observability.RunsTotal.WithLabelValues(string(status)).Inc()
	observability.RunDurationSeconds.Observe(time.Since(started).Seconds())

	return status, err
}

// runStages walks the post through filter, analyze and generate. Any
// stage error moves the run to failed; the run never remains in a
// non-terminal state. Stages already recorded on the analysis are
// resumed from the record, not re-executed: a run reclaimed after a
// worker crash picks up where the crashed run left off without billing
// the same stage twice.
func (o *Orchestrator) runStages(ctx context.Context, logger *zerolog.Logger, post *domain.Post, trace *Trace) (domain.RunStatus, error) {
	rec, err := o.repo.EnsureAnalysis(ctx, post.ID)
	if err != nil {
		return o.fail(ctx, logger, post, domain.StageFilter, fmt.Errorf("ensure analysis: %w", err))
	}

	// Filter stage
	if err := o.advance(ctx, post, domain.RunStatusClaimed, domain.RunStatusFiltering); err != nil {
		return domain.RunStatusFailed, err
	}

	var filter llm.FilterResult

	if rec.FilteredAt != nil {
		filter = llm.FilterResult{
			Relevant: rec.FilterRelevant != nil && *rec.FilterRelevant,
			Reason:   rec.FilterReason,
		}

		logger.Info().Msg("filter verdict already on record, resuming")
	} else {
		var filterUsage llm.StageUsage

		filter, filterUsage, err = o.runner.RunFilter(ctx, post.ID, post.Text, o.cfg.FilterModel)
		trace.record(domain.StageFilter, filterUsage, err)

		if err != nil {
			return o.fail(ctx, logger, post, domain.StageFilter, err)
		}

		if err := o.repo.RecordFilterStage(ctx, post.ID, filter.Relevant, filter.Reason); err != nil {
			return o.fail(ctx, logger, post, domain.StageFilter, fmt.Errorf("record filter stage: %w", err))
		}
	}

	if !filter.Relevant {
		// A legitimately filtered-out post is not an error.
		logger.Info().Str("reason", filter.Reason).Msg("post filtered out")

		return o.complete(ctx, logger, post, nil, domain.RunStatusFiltering)
	}

	// Analysis stage
	if err := o.checkCanceled(ctx); err != nil {
		return o.fail(ctx, logger, post, domain.StageAnalyze, err)
	}

	if err := o.advance(ctx, post, domain.RunStatusFiltering, domain.RunStatusAnalyzing); err != nil {
		return domain.RunStatusFailed, err
	}

	var analysis llm.AnalysisResult

	if rec.AnalyzedAt != nil {
		analysis = llm.AnalysisResult{Summary: rec.Summary, Insight: rec.Insight, Theme: rec.Theme}

		logger.Info().Msg("analysis already on record, resuming")
	} else {
		var analyzeUsage llm.StageUsage

		analysis, analyzeUsage, err = o.runner.RunAnalysis(ctx, post.ID, post.Text, o.cfg.AnalyzeModel)
		trace.record(domain.StageAnalyze, analyzeUsage, err)

		if err != nil {
			return o.fail(ctx, logger, post, domain.StageAnalyze, err)
		}

		if err := o.repo.RecordAnalyzeStage(ctx, post.ID, analysis.Summary, analysis.Insight, analysis.Theme); err != nil {
			return o.fail(ctx, logger, post, domain.StageAnalyze, fmt.Errorf("record analyze stage: %w", err))
		}
	}

	// Generation stage
	if err := o.checkCanceled(ctx); err != nil {
		return o.fail(ctx, logger, post, domain.StageGenerate, err)
	}

	if err := o.advance(ctx, post, domain.RunStatusAnalyzing, domain.RunStatusGenerating); err != nil {
		return domain.RunStatusFailed, err
	}

	payload, generateUsage, err := o.runner.RunGenerate(ctx, post.ID, post.Text, analysis, o.cfg.GenerateModel)
	trace.record(domain.StageGenerate, generateUsage, err)

	if err != nil {
		return o.fail(ctx, logger, post, domain.StageGenerate, err)
	}

	scenario := scenarioFromPayload(post.ID, payload)
	if err := o.repo.SaveScenario(ctx, scenario); err != nil {
		return o.fail(ctx, logger, post, domain.StageGenerate, fmt.Errorf("save scenario: %w", err))
	}

	trace.setScenario(scenario)

	return o.complete(ctx, logger, post, scenario, domain.RunStatusGenerating)
}

func (o *Orchestrator) advance(ctx context.Context, post *domain.Post, from, to domain.RunStatus) error {
	if err := o.repo.AdvanceRun(ctx, post.ID, from, to); err != nil {
		return fmt.Errorf("advance run %s -> %s: %w", from, to, err)
	}

	return nil
}

func (o *Orchestrator) complete(ctx context.Context, logger *zerolog.Logger, post *domain.Post, scenario *domain.Scenario, from domain.RunStatus) (domain.RunStatus, error) {
	if err := o.repo.AdvanceRun(ctx, post.ID, from, domain.RunStatusCompleted); err != nil {
		return domain.RunStatusFailed, fmt.Errorf("commit completed: %w", err)
	}

	logger.Info().Bool("scenario", scenario != nil).Msg("run completed")

	if o.events != nil {
		o.events.PipelineCompleted(ctx, post, scenario)
	}

	return domain.RunStatusCompleted, nil
}

// fail records the failure reason on the analysis and commits the
// terminal failed state. The error itself is not returned: a failed run
// is a recorded outcome, not a worker crash.
func (o *Orchestrator) fail(ctx context.Context, logger *zerolog.Logger, post *domain.Post, stage domain.Stage, cause error) (domain.RunStatus, error) {
	reason := fmt.Sprintf("%s stage: %v", stage, cause)

	logger.Warn().Err(cause).Str("stage", string(stage)).Msg("run failed")
	observability.StageFailures.WithLabelValues(string(stage), failureReasonLabel(cause)).Inc()

	// The failure commit must survive run cancellation so the run is
	// never left in a non-terminal state.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failCommitTimeout)
	defer cancel()

	if err := o.repo.RecordRunFailure(commitCtx, post.ID, reason); err != nil {
		logger.Error().Err(err).Msg("failed to record run failure")
	}

	if o.events != nil {
		o.events.PipelineFailed(commitCtx, post, reason)
	}

	return domain.RunStatusFailed, nil
}

func (o *Orchestrator) checkCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("run canceled between stages: %w", ctx.Err())
	default:
		return nil
	}
}

// RecoverStuck releases claims older than the staleness threshold back
// to the selectable pool, recovering from crashed workers.
func (o *Orchestrator) RecoverStuck(ctx context.Context) {
	recovered, err := o.repo.RecoverStuckRuns(ctx, o.cfg.StaleClaimThreshold)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to recover stuck runs")
		return
	}

	if recovered > 0 {
		observability.StuckRunsRecovered.Add(float64(recovered))
		o.logger.Info().Int64("recovered", recovered).Msg("recovered stuck runs")
	}
}

func scenarioFromPayload(postID string, p llm.ScenarioPayload) *domain.Scenario {
	return &domain.Scenario{
		PostID:      postID,
		Title:       p.Title,
		DurationSec: p.DurationSec,
		Hook:        p.Hook,
		Insight:     p.Insight,
		Steps:       p.Steps,
		CTA:         p.CTA,
		Hashtags:    p.Hashtags,
		Music:       p.Music,
		Status:      domain.ScenarioStatusDraft,
	}
}

func failureReasonLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, apperrors.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, apperrors.ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "other"
	}
}

const failCommitTimeout = 10 * time.Second

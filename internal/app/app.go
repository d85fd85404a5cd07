// Package app provides the main application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// different operational modes:
//
//   - Worker mode: unattended scoring, selection and stage processing
//   - Runone mode: process a single post and print the full stage trace
//   - Sweep mode: one retry pass over failed and stale notifications
//   - Usage mode: print the aggregated token usage ledger
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/llm"
	"github.com/avolkov/reelpipe/internal/notify"
	"github.com/avolkov/reelpipe/internal/pipeline"
	"github.com/avolkov/reelpipe/internal/platform/config"
	"github.com/avolkov/reelpipe/internal/platform/observability"
	"github.com/avolkov/reelpipe/internal/scenario"
	"github.com/avolkov/reelpipe/internal/scoring"
	"github.com/avolkov/reelpipe/internal/selector"
	db "github.com/avolkov/reelpipe/internal/storage"
)

const llmAPIKeyMock = "mock"

// App holds the application dependencies and provides methods to run
// different modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	srv := observability.NewServer(a.database, a.cfg.HealthPort, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// RunWorker runs the unattended pipeline loop.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("Starting worker mode")

	orch, err := a.newOrchestrator(ctx)
	if err != nil {
		return err
	}

	candidates := selector.New(a.database, selector.Config{
		MinScore:          a.cfg.MinScore,
		ChannelDailyQuota: a.cfg.ChannelDailyQuota,
		BatchSize:         a.cfg.WorkerBatchSize,
	}, a.logger)

	w := pipeline.NewWorker(pipeline.WorkerConfig{
		PoolSize:     a.cfg.WorkerPoolSize,
		PollInterval: a.cfg.WorkerPollInterval,
		Weights: scoring.Weights{
			Views:     a.cfg.ScoreWeightViews,
			Reactions: a.cfg.ScoreWeightReactions,
			Replies:   a.cfg.ScoreWeightReplies,
			Forwards:  a.cfg.ScoreWeightForwards,
		},
	}, orch, a.database, candidates, a.logger)

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	return nil
}

// RunOne processes a single post immediately and prints the per-stage
// trace as JSON. It goes through the same claim and commit machinery as
// the worker, so quotas and ledgering apply unchanged.
func (a *App) RunOne(ctx context.Context, postID string) error {
	if postID == "" {
		return fmt.Errorf("runone mode requires --post")
	}

	a.logger.Info().Str("post_id", postID).Msg("Starting runone mode")

	orch, err := a.newOrchestrator(ctx)
	if err != nil {
		return err
	}

	trace, runErr := orch.RunOne(ctx, postID)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if trace != nil {
		if err := enc.Encode(trace); err != nil {
			return fmt.Errorf("encode trace: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run post %s: %w", postID, runErr)
	}

	return nil
}

// RunSweep performs one retry pass over failed and stale-pending
// notifications and exits.
func (a *App) RunSweep(ctx context.Context) error {
	a.logger.Info().Msg("Starting sweep mode")

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	if dispatcher == nil {
		return fmt.Errorf("sweep mode requires NOTIFY_BOT_TOKEN")
	}

	sweeper := notify.NewSweeper(notify.SweepConfig{
		StalePending: a.cfg.NotifyStalePending,
		Window:       a.cfg.NotifySweepWindow,
	}, a.database, dispatcher, a.logger)

	retried, err := sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("notification sweep: %w", err)
	}

	a.logger.Info().Int("retried", retried).Msg("sweep complete")

	return nil
}

// RunUsage prints the ledger aggregated per UTC day, model and stage.
func (a *App) RunUsage(ctx context.Context, days int) error {
	if days <= 0 {
		days = 7
	}

	since := time.Now().UTC().AddDate(0, 0, -days)

	summary, err := a.database.SummarizeUsage(ctx, since)
	if err != nil {
		return fmt.Errorf("summarize usage: %w", err)
	}

	if len(summary) == 0 {
		fmt.Println("no ledger records in window")
		return nil
	}

	fmt.Printf("%-12s %-20s %-18s %8s %8s %12s %12s %12s\n",
		"DAY", "MODEL", "STAGE", "CALLS", "FAILED", "PROMPT", "COMPLETION", "COST USD")

	var totalCost float64

	for _, row := range summary {
		fmt.Printf("%-12s %-20s %-18s %8d %8d %12d %12d %12.4f\n",
			row.Day.Format("2006-01-02"), row.Model, row.Stage,
			row.Calls, row.Failures, row.PromptTokens, row.CompletionTokens, row.CostUSD)

		totalCost += row.CostUSD
	}

	fmt.Printf("total cost: %.4f USD over %d days\n", totalCost, days)

	return nil
}

// NewScenarioMachine builds the approval lifecycle entry point backed by
// the shared storage and notification wiring.
func (a *App) NewScenarioMachine() (*scenario.Machine, error) {
	dispatcher, err := a.newDispatcher()
	if err != nil {
		return nil, err
	}

	var events scenario.Publisher
	if dispatcher != nil {
		events = dispatcher
	}

	return scenario.NewMachine(a.database, events, a.logger), nil
}

func (a *App) newOrchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	runner, err := a.newStageRunner(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return nil, err
	}

	var events pipeline.EventSink
	if dispatcher != nil {
		events = dispatcher
	}

	cfg := pipeline.Config{
		FilterModel: llm.ModelConfig{
			Model:       a.cfg.FilterModel(),
			Temperature: a.cfg.LLMTemperature,
			MaxTokens:   a.cfg.LLMMaxTokens,
		},
		AnalyzeModel: llm.ModelConfig{
			Model:       a.cfg.LLMModel,
			Temperature: a.cfg.LLMTemperature,
			MaxTokens:   a.cfg.LLMMaxTokens,
		},
		GenerateModel: llm.ModelConfig{
			Model:       a.cfg.LLMModel,
			Temperature: a.cfg.LLMTemperature,
			MaxTokens:   a.cfg.LLMMaxTokens,
		},
		ChannelDailyQuota:   a.cfg.ChannelDailyQuota,
		StaleClaimThreshold: a.cfg.StaleClaimThreshold,
	}

	return pipeline.NewOrchestrator(cfg, a.database, runner, events, a.logger), nil
}

func (a *App) newStageRunner(ctx context.Context) (*llm.StageRunner, error) {
	var provider llm.Provider
	if a.cfg.LLMAPIKey == llmAPIKeyMock {
		provider = llm.NewMockProvider()

		a.logger.Warn().Msg("using mock LLM provider")
	} else {
		provider = llm.NewOpenAIProvider(a.cfg.LLMAPIKey, a.cfg.RateLimitRPS, a.logger)
	}

	budget := llm.NewBudgetGuard(a.cfg.LLMDailyTokenLimit, a.logger)

	used, err := a.database.TokensUsedToday(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore token budget: %w", err)
	}

	budget.Seed(used)

	retry := llm.DefaultRetryPolicy(nil)
	retry.MaxAttempts = a.cfg.RetryMaxAttempts
	retry.InitialDelay = a.cfg.RetryInitialDelay

	return llm.NewStageRunner(provider, a.database, budget, a.database, retry, a.cfg.LLMCallTimeout, a.logger), nil
}

// newDispatcher returns nil when no bot token is configured; runs then
// proceed without delivery and events are simply not announced.
func (a *App) newDispatcher() (*notify.Dispatcher, error) {
	if a.cfg.NotifyBotToken == "" {
		return nil, nil
	}

	sender, err := notify.NewTelegramSender(a.cfg.NotifyBotToken)
	if err != nil {
		return nil, fmt.Errorf("notification sender init: %w", err)
	}

	return notify.NewDispatcher(a.database, sender, a.logger), nil
}

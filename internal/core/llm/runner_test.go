package llm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

type memoryLedger struct {
	mu      sync.Mutex
	records []domain.TokenUsageRecord
}

func (l *memoryLedger) RecordUsage(_ context.Context, rec *domain.TokenUsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, *rec)

	return nil
}

func (l *memoryLedger) all() []domain.TokenUsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.TokenUsageRecord, len(l.records))
	copy(out, l.records)

	return out
}

func quickRetry() RetryPolicy {
	p := DefaultRetryPolicy(nil)
	p.InitialDelay = time.Millisecond
	p.Jitter = 0

	return p
}

func newTestRunner(provider Provider, ledger UsageLedger, budget *BudgetGuard) *StageRunner {
	return NewStageRunner(provider, ledger, budget, nil, quickRetry(), time.Second, nil)
}

var testModel = ModelConfig{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 2000}

func TestRunFilterParsesVerdict(t *testing.T) {
	provider := NewMockProvider()
	provider.Enqueue(MockResponse{
		Content:          `{"relevant": true, "reason": "actionable advice"}`,
		PromptTokens:     120,
		CompletionTokens: 15,
		Reached:          true,
	})

	ledger := &memoryLedger{}
	r := newTestRunner(provider, ledger, nil)

	result, usage, err := r.RunFilter(context.Background(), "post-1", "some text", testModel)
	require.NoError(t, err)
	require.True(t, result.Relevant)
	require.Equal(t, "actionable advice", result.Reason)

	require.Equal(t, 1, usage.Calls)
	require.Equal(t, 120, usage.PromptTokens)
	require.Equal(t, 15, usage.CompletionTokens)

	records := ledger.all()
	require.Len(t, records, 1)
	require.Equal(t, domain.StageFilter, records[0].Stage)
	require.Equal(t, "post-1", records[0].PostID)
	require.True(t, records[0].Success)
}

func TestRunnerLedgersEveryReachedAttempt(t *testing.T) {
	provider := NewMockProvider()
	// Two rate-limited attempts that still reached the model, then success.
	provider.Enqueue(
		MockResponse{PromptTokens: 100, CompletionTokens: 0, Reached: true, Err: fmt.Errorf("%w: 429", apperrors.ErrModelUnavailable)},
		MockResponse{PromptTokens: 100, CompletionTokens: 0, Reached: true, Err: fmt.Errorf("%w: 429", apperrors.ErrModelUnavailable)},
		MockResponse{Content: `{"summary": "s", "insight": "i", "theme": "t"}`, PromptTokens: 100, CompletionTokens: 40, Reached: true},
	)

	ledger := &memoryLedger{}
	r := newTestRunner(provider, ledger, nil)

	result, usage, err := r.RunAnalysis(context.Background(), "post-1", "text", testModel)
	require.NoError(t, err)
	require.Equal(t, "s", result.Summary)

	records := ledger.all()
	require.Len(t, records, 3, "every attempt that reached the model must be ledgered")
	require.False(t, records[0].Success)
	require.False(t, records[1].Success)
	require.True(t, records[2].Success)

	require.Equal(t, 3, usage.Calls)
	require.Equal(t, 300, usage.PromptTokens)
	require.Equal(t, 40, usage.CompletionTokens)
}

func TestRunnerUnreachedCallNotLedgered(t *testing.T) {
	provider := NewMockProvider()
	provider.Enqueue(MockResponse{Reached: false, Err: fmt.Errorf("%w: connection refused", apperrors.ErrModelUnavailable)})

	ledger := &memoryLedger{}

	r := NewStageRunner(provider, ledger, nil, nil, RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond}, time.Second, nil)

	_, _, err := r.RunFilter(context.Background(), "post-1", "text", testModel)
	require.ErrorIs(t, err, apperrors.ErrModelUnavailable)

	require.Empty(t, ledger.all(), "a call that never reached the provider must not be ledgered")
}

func TestRunnerInvalidResponseNotRetried(t *testing.T) {
	provider := NewMockProvider()
	provider.Enqueue(MockResponse{
		Content:          `{"title": "", "duration_sec": 0}`,
		PromptTokens:     200,
		CompletionTokens: 30,
		Reached:          true,
	})

	ledger := &memoryLedger{}
	r := newTestRunner(provider, ledger, nil)

	_, usage, err := r.RunGenerate(context.Background(), "post-1", "text", AnalysisResult{Summary: "s", Insight: "i"}, testModel)
	require.ErrorIs(t, err, apperrors.ErrInvalidResponse)

	// The model was reached and billed exactly once: malformed output is
	// not an excuse to regenerate.
	require.Len(t, provider.Calls(), 1)
	require.Len(t, ledger.all(), 1)
	require.Equal(t, 200, usage.PromptTokens)
	require.Positive(t, usage.CostUSD)
}

func TestRunnerBudgetExhaustedBeforeDispatch(t *testing.T) {
	provider := NewMockProvider()
	budget := NewBudgetGuard(100, nil)
	budget.Seed(100)

	ledger := &memoryLedger{}
	r := newTestRunner(provider, ledger, budget)

	_, _, err := r.RunFilter(context.Background(), "post-1", "text", testModel)
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	require.Empty(t, provider.Calls(), "exhausted budget must block the dispatch itself")
	require.Empty(t, ledger.all())
}

func TestRunnerRecordsTokensAgainstBudget(t *testing.T) {
	provider := NewMockProvider()
	provider.Enqueue(MockResponse{
		Content:          `{"relevant": false, "reason": "ad"}`,
		PromptTokens:     80,
		CompletionTokens: 20,
		Reached:          true,
	})

	budget := NewBudgetGuard(1000, nil)
	r := newTestRunner(provider, &memoryLedger{}, budget)

	_, _, err := r.RunFilter(context.Background(), "post-1", "text", testModel)
	require.NoError(t, err)

	used, _ := budget.Usage()
	require.Equal(t, int64(100), used)
}

func TestRunnerPromptContainsPostText(t *testing.T) {
	provider := NewMockProvider()
	provider.Enqueue(MockResponse{Content: `{"relevant": true}`, Reached: true})

	r := newTestRunner(provider, &memoryLedger{}, nil)

	_, _, err := r.RunFilter(context.Background(), "post-1", "the actual post body", testModel)
	require.NoError(t, err)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].Prompt, "the actual post body")
}

package llm

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

const dateFormatYMD = "2006-01-02"

// BudgetGuard enforces a daily token cap across all stages. Hitting the
// cap is fatal for the current run and surfaces as ErrQuotaExceeded;
// resuming requires operator intervention (a raised limit or the daily
// reset).
type BudgetGuard struct {
	mu            sync.Mutex
	dailyTokens   int64
	dailyLimit    int64
	lastResetDate string
	logger        *zerolog.Logger
}

// NewBudgetGuard creates a guard with the given daily token limit.
// A limit of zero disables enforcement.
func NewBudgetGuard(dailyLimit int64, logger *zerolog.Logger) *BudgetGuard {
	return &BudgetGuard{
		dailyLimit:    dailyLimit,
		lastResetDate: time.Now().UTC().Format(dateFormatYMD),
		logger:        logger,
	}
}

// Check returns ErrQuotaExceeded when the daily budget is exhausted.
// Called before each model dispatch so an in-flight call is never cut off.
func (g *BudgetGuard) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfNewDay()

	if g.dailyLimit > 0 && g.dailyTokens >= g.dailyLimit {
		return fmt.Errorf("%w: daily token budget %d exhausted (%d used)",
			apperrors.ErrQuotaExceeded, g.dailyLimit, g.dailyTokens)
	}

	return nil
}

// Record adds consumed tokens to the daily count.
func (g *BudgetGuard) Record(tokens int) {
	if tokens <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfNewDay()
	g.dailyTokens += int64(tokens)
}

// Seed sets today's consumed tokens from the persisted ledger so a
// restart does not forget what was already spent.
func (g *BudgetGuard) Seed(tokens int64) {
	if tokens <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfNewDay()
	g.dailyTokens = tokens
}

// Usage returns the current daily token usage and limit.
func (g *BudgetGuard) Usage() (used, limit int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfNewDay()

	return g.dailyTokens, g.dailyLimit
}

func (g *BudgetGuard) resetIfNewDay() {
	today := time.Now().UTC().Format(dateFormatYMD)
	if g.lastResetDate != today {
		g.dailyTokens = 0
		g.lastResetDate = today

		if g.logger != nil {
			g.logger.Info().Str("date", today).Msg("token budget reset for new day")
		}
	}
}

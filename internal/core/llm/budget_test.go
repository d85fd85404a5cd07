package llm

import (
	"testing"

	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

func TestBudgetGuardDisabledByZeroLimit(t *testing.T) {
	g := NewBudgetGuard(0, nil)
	g.Record(1_000_000)

	if err := g.Check(); err != nil {
		t.Fatalf("zero limit must disable enforcement, got %v", err)
	}
}

func TestBudgetGuardExhaustion(t *testing.T) {
	g := NewBudgetGuard(100, nil)

	if err := g.Check(); err != nil {
		t.Fatalf("fresh guard must pass, got %v", err)
	}

	g.Record(60)

	if err := g.Check(); err != nil {
		t.Fatalf("under limit must pass, got %v", err)
	}

	g.Record(40)

	if err := g.Check(); !apperrors.Is(err, apperrors.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded at limit, got %v", err)
	}
}

func TestBudgetGuardSeed(t *testing.T) {
	g := NewBudgetGuard(100, nil)
	g.Seed(100)

	if err := g.Check(); !apperrors.Is(err, apperrors.ErrQuotaExceeded) {
		t.Fatalf("seeded guard must enforce persisted spend, got %v", err)
	}

	used, limit := g.Usage()
	if used != 100 || limit != 100 {
		t.Fatalf("expected usage 100/100, got %d/%d", used, limit)
	}
}

func TestBudgetGuardIgnoresNonPositiveRecords(t *testing.T) {
	g := NewBudgetGuard(10, nil)
	g.Record(0)
	g.Record(-5)

	used, _ := g.Usage()
	if used != 0 {
		t.Fatalf("expected no usage recorded, got %d", used)
	}
}

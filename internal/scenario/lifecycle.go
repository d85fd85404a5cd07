// Package scenario owns the draft -> approved -> published approval
// lifecycle. Only forward transitions pass the normal API; an
// administrative override may force any transition but always logs the
// actor and reason.
package scenario

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
	"github.com/avolkov/reelpipe/internal/platform/observability"
	db "github.com/avolkov/reelpipe/internal/storage"
)

// Repository is the storage surface for lifecycle transitions.
type Repository interface {
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	// UpdateScenarioStatus CAS-updates the status; returns ErrConflict
	// when the stored status no longer matches expected.
	UpdateScenarioStatus(ctx context.Context, id string, expected, next domain.ScenarioStatus) error
	SaveScenarioAudit(ctx context.Context, audit *domain.ScenarioAudit) error
}

var _ Repository = (*db.DB)(nil)

// Publisher is notified when a scenario reaches published.
type Publisher interface {
	ScenarioPublished(ctx context.Context, scenario *domain.Scenario)
}

// forward lists the single legal next state per status. draft ->
// published directly is rejected: the approved step is a mandatory
// human review gate.
var forward = map[domain.ScenarioStatus]domain.ScenarioStatus{
	domain.ScenarioStatusDraft:    domain.ScenarioStatusApproved,
	domain.ScenarioStatusApproved: domain.ScenarioStatusPublished,
}

type Machine struct {
	repo   Repository
	events Publisher
	logger *zerolog.Logger
}

func NewMachine(repo Repository, events Publisher, logger *zerolog.Logger) *Machine {
	return &Machine{repo: repo, events: events, logger: logger}
}

// Transition applies a user-driven forward transition and returns the
// new status, or ErrStateTransition with the original state unchanged.
func (m *Machine) Transition(ctx context.Context, id string, target domain.ScenarioStatus, actor string) (domain.ScenarioStatus, error) {
	if !target.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", apperrors.ErrStateTransition, target)
	}

	current, err := m.repo.GetScenario(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get scenario: %w", err)
	}

	if forward[current.Status] != target {
		observability.ScenarioTransitions.WithLabelValues(string(target), "rejected").Inc()

		return "", fmt.Errorf("%w: %s -> %s", apperrors.ErrStateTransition, current.Status, target)
	}

	if err := m.commit(ctx, current, target, actor, "", false); err != nil {
		return "", err
	}

	return target, nil
}

// Override forces any transition. Actor and reason are mandatory and
// land in the audit log.
func (m *Machine) Override(ctx context.Context, id string, target domain.ScenarioStatus, actor, reason string) (domain.ScenarioStatus, error) {
	if !target.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", apperrors.ErrStateTransition, target)
	}

	if actor == "" || reason == "" {
		return "", fmt.Errorf("%w: override requires actor and reason", apperrors.ErrStateTransition)
	}

	current, err := m.repo.GetScenario(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get scenario: %w", err)
	}

	if current.Status == target {
		return target, nil
	}

	if err := m.commit(ctx, current, target, actor, reason, true); err != nil {
		return "", err
	}

	m.logger.Warn().
		Str("scenario_id", id).
		Str("actor", actor).
		Str("from", string(current.Status)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("administrative lifecycle override")

	return target, nil
}

func (m *Machine) commit(ctx context.Context, current *domain.Scenario, target domain.ScenarioStatus, actor, reason string, override bool) error {
	if err := m.repo.UpdateScenarioStatus(ctx, current.ID, current.Status, target); err != nil {
		observability.ScenarioTransitions.WithLabelValues(string(target), "conflict").Inc()

		return fmt.Errorf("update scenario status: %w", err)
	}

	audit := &domain.ScenarioAudit{
		ScenarioID: current.ID,
		FromStatus: current.Status,
		ToStatus:   target,
		Actor:      actor,
		Reason:     reason,
		Override:   override,
	}
	if err := m.repo.SaveScenarioAudit(ctx, audit); err != nil {
		m.logger.Error().Err(err).Str("scenario_id", current.ID).Msg("failed to save scenario audit")
	}

	observability.ScenarioTransitions.WithLabelValues(string(target), "ok").Inc()

	if target == domain.ScenarioStatusPublished && m.events != nil {
		published := *current
		published.Status = target
		m.events.ScenarioPublished(ctx, &published)
	}

	return nil
}

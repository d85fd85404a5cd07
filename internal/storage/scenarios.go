package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

// SaveScenario inserts the scenario produced by a successful run and
// fills in its generated id. One scenario per post.
func (db *DB) SaveScenario(ctx context.Context, s *domain.Scenario) error {
	hook, err := json.Marshal(s.Hook)
	if err != nil {
		return fmt.Errorf("marshal hook: %w", err)
	}

	insight, err := json.Marshal(s.Insight)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}

	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	cta, err := json.Marshal(s.CTA)
	if err != nil {
		return fmt.Errorf("marshal cta: %w", err)
	}

	err = db.Pool.QueryRow(ctx, `
		INSERT INTO scenarios (post_id, title, duration_sec, hook, insight, steps, cta, hashtags, music, status)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text, created_at
	`, s.PostID, s.Title, s.DurationSec, hook, insight, steps, cta, s.Hashtags, s.Music, string(s.Status)).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save scenario: %w", err)
	}

	return nil
}

// GetScenario loads one scenario by id.
func (db *DB) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	return db.getScenario(ctx, "id", id)
}

// GetScenarioByPost loads the scenario produced for a post, if any.
func (db *DB) GetScenarioByPost(ctx context.Context, postID string) (*domain.Scenario, error) {
	return db.getScenario(ctx, "post_id", postID)
}

func (db *DB) getScenario(ctx context.Context, column, id string) (*domain.Scenario, error) {
	var (
		s       domain.Scenario
		status  string
		hook    []byte
		insight []byte
		steps   []byte
		cta     []byte
	)

	err := db.Pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id::text, post_id::text, title, duration_sec, hook, insight, steps, cta,
		       hashtags, music, status, created_at
		FROM scenarios
		WHERE %s = $1::uuid
	`, column), id).Scan(
		&s.ID, &s.PostID, &s.Title, &s.DurationSec, &hook, &insight, &steps, &cta,
		&s.Hashtags, &s.Music, &status, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrScenarioNotFound, id)
		}

		return nil, fmt.Errorf("get scenario: %w", err)
	}

	s.Status = domain.ScenarioStatus(status)

	if err := json.Unmarshal(hook, &s.Hook); err != nil {
		return nil, fmt.Errorf("unmarshal hook: %w", err)
	}

	if err := json.Unmarshal(insight, &s.Insight); err != nil {
		return nil, fmt.Errorf("unmarshal insight: %w", err)
	}

	if err := json.Unmarshal(steps, &s.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(cta, &s.CTA); err != nil {
		return nil, fmt.Errorf("unmarshal cta: %w", err)
	}

	return &s, nil
}

// UpdateScenarioStatus CAS-updates the lifecycle status. A mismatch
// means a concurrent transition won; the caller sees ErrConflict and
// the stored state is unchanged.
func (db *DB) UpdateScenarioStatus(ctx context.Context, id string, expected, next domain.ScenarioStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE scenarios
		SET status = $3
		WHERE id = $1::uuid AND status = $2
	`, id, string(expected), string(next))
	if err != nil {
		return fmt.Errorf("update scenario status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scenario %s not in %s", apperrors.ErrConflict, id, expected)
	}

	return nil
}

// SaveScenarioAudit appends one lifecycle audit entry.
func (db *DB) SaveScenarioAudit(ctx context.Context, a *domain.ScenarioAudit) error {
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO scenario_audit (scenario_id, from_status, to_status, actor, reason, is_override)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
		RETURNING id::text, created_at
	`, a.ScenarioID, string(a.FromStatus), string(a.ToStatus), a.Actor, a.Reason, a.Override).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save scenario audit: %w", err)
	}

	return nil
}

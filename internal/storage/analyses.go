package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

const analysisColumns = `
	id::text, post_id::text, filter_relevant, filter_reason, filtered_at,
	summary, insight, theme, analyzed_at, failure_reason, failed_at, created_at`

func scanAnalysis(row pgx.Row) (*domain.PostAnalysis, error) {
	var a domain.PostAnalysis

	err := row.Scan(
		&a.ID, &a.PostID, &a.FilterRelevant, &a.FilterReason, &a.FilteredAt,
		&a.Summary, &a.Insight, &a.Theme, &a.AnalyzedAt,
		&a.FailureReason, &a.FailedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// EnsureAnalysis returns the post's analysis record, creating it when
// the orchestrator starts processing the post for the first time.
func (db *DB) EnsureAnalysis(ctx context.Context, postID string) (*domain.PostAnalysis, error) {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO post_analyses (post_id)
		VALUES ($1::uuid)
		ON CONFLICT (post_id) DO NOTHING
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("ensure analysis: %w", err)
	}

	return db.GetAnalysis(ctx, postID)
}

// GetAnalysis returns the analysis for a post.
func (db *DB) GetAnalysis(ctx context.Context, postID string) (*domain.PostAnalysis, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+analysisColumns+`
		FROM post_analyses
		WHERE post_id = $1::uuid
	`, postID)

	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: analysis for post %s", apperrors.ErrNotFound, postID)
		}

		return nil, fmt.Errorf("get analysis: %w", err)
	}

	return analysis, nil
}

// RecordFilterStage stores the filter verdict. Stages are append-only:
// a recorded stage is never overwritten, preserving the audit trail.
func (db *DB) RecordFilterStage(ctx context.Context, postID string, relevant bool, reason string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE post_analyses
		SET filter_relevant = $2, filter_reason = $3, filtered_at = now()
		WHERE post_id = $1::uuid AND filtered_at IS NULL
	`, postID, relevant, reason)
	if err != nil {
		return fmt.Errorf("record filter stage: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: filter stage already recorded for post %s", apperrors.ErrConflict, postID)
	}

	return nil
}

// RecordAnalyzeStage stores the deep-analysis output, append-only.
func (db *DB) RecordAnalyzeStage(ctx context.Context, postID, summary, insight, theme string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE post_analyses
		SET summary = $2, insight = $3, theme = $4, analyzed_at = now()
		WHERE post_id = $1::uuid AND analyzed_at IS NULL
	`, postID, summary, insight, theme)
	if err != nil {
		return fmt.Errorf("record analyze stage: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: analyze stage already recorded for post %s", apperrors.ErrConflict, postID)
	}

	return nil
}

// RecordRunFailure records the failure reason on the analysis and
// commits the terminal failed state on the post in one transaction, so
// a run is never left non-terminal with a recorded failure.
func (db *DB) RecordRunFailure(ctx context.Context, postID, reason string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failure tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		UPDATE post_analyses
		SET failure_reason = $2, failed_at = now()
		WHERE post_id = $1::uuid AND failed_at IS NULL
	`, postID, reason)
	if err != nil {
		return fmt.Errorf("record failure reason: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE posts
		SET processing_status = 'failed'
		WHERE id = $1::uuid AND processing_status NOT IN ('completed', 'failed')
	`, postID)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failure tx: %w", err)
	}

	return nil
}

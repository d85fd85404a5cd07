package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

const postColumns = `
	p.id::text, p.channel_id::text, c.owner_user_id, p.tg_message_id, p.text,
	p.views, p.reactions, p.replies, p.forwards,
	p.score, p.processing_status, p.claimed_at, p.ingested_at`

func scanPost(row pgx.Row) (*domain.Post, error) {
	var (
		p      domain.Post
		status string
	)

	err := row.Scan(
		&p.ID, &p.ChannelID, &p.OwnerUserID, &p.TGMessageID, &p.Text,
		&p.Views, &p.Reactions, &p.Replies, &p.Forwards,
		&p.Score, &status, &p.ClaimedAt, &p.IngestedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.RunStatus(status)

	return &p, nil
}

func (db *DB) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN channels c ON c.id = p.channel_id
		WHERE p.id = $1::uuid
	`, id)

	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrPostNotFound, id)
		}

		return nil, fmt.Errorf("get post: %w", err)
	}

	return post, nil
}

// ClaimPost atomically moves a post from new to claimed and consumes one
// unit of the channel's daily quota in the same transaction. The CAS on
// processing_status guarantees at most one concurrent run per post; the
// cap predicate on the counter update guarantees at most quota
// admissions per channel per day, even when workers select concurrently.
// A quota miss rolls the claim back and returns ErrQuotaExceeded.
func (db *DB) ClaimPost(ctx context.Context, id string, quota int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var channelID string

	err = tx.QueryRow(ctx, `
		UPDATE posts
		SET processing_status = 'claimed', claimed_at = now()
		WHERE id = $1::uuid AND processing_status = 'new'
		RETURNING channel_id::text
	`, id).Scan(&channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.classifyClaimMiss(ctx, id)
		}

		return fmt.Errorf("claim post: %w", err)
	}

	// Serialized quota increment: the row lock on the counter orders
	// concurrent claims, and the cap predicate re-validates the quota
	// that selection only observed read-only.
	tag, err := tx.Exec(ctx, `
		INSERT INTO channel_daily_quota (channel_id, day, admitted)
		VALUES ($1::uuid, CURRENT_DATE, 1)
		ON CONFLICT (channel_id, day)
		DO UPDATE SET admitted = channel_daily_quota.admitted + 1
		WHERE channel_daily_quota.admitted < $2
	`, channelID, quota)
	if err != nil {
		return fmt.Errorf("consume channel quota: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: channel %s daily quota reached", apperrors.ErrQuotaExceeded, channelID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim tx: %w", err)
	}

	return nil
}

// classifyClaimMiss distinguishes a lost race from a terminal no-op.
func (db *DB) classifyClaimMiss(ctx context.Context, id string) error {
	var status string

	err := db.Pool.QueryRow(ctx, `SELECT processing_status FROM posts WHERE id = $1::uuid`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", apperrors.ErrPostNotFound, id)
		}

		return fmt.Errorf("inspect post status: %w", err)
	}

	if domain.RunStatus(status).Terminal() {
		return fmt.Errorf("%w: post %s is %s", apperrors.ErrAlreadyTerminal, id, status)
	}

	return fmt.Errorf("%w: post %s is %s", apperrors.ErrConflict, id, status)
}

// AdvanceRun CAS-moves the post's run status from one expected state to
// the next.
func (db *DB) AdvanceRun(ctx context.Context, postID string, from, to domain.RunStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE posts
		SET processing_status = $3
		WHERE id = $1::uuid AND processing_status = $2
	`, postID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: post %s not in %s", apperrors.ErrConflict, postID, from)
	}

	return nil
}

// RecoverStuckRuns releases non-terminal claims older than the threshold
// back to the selectable pool.
func (db *DB) RecoverStuckRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	tag, err := db.Pool.Exec(ctx, `
		UPDATE posts
		SET processing_status = 'new', claimed_at = NULL
		WHERE processing_status IN ('claimed', 'filtering', 'analyzing', 'generating')
		  AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck runs: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ListSelectablePosts returns scored, unprocessed posts. Posts in flight
// or terminal are excluded by the status predicate.
func (db *DB) ListSelectablePosts(ctx context.Context, limit int) ([]domain.Post, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN channels c ON c.id = p.channel_id
		WHERE p.processing_status = 'new' AND p.scored_at IS NOT NULL
		ORDER BY p.score DESC, p.ingested_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list selectable posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListUnscoredPosts returns freshly ingested posts awaiting a score.
func (db *DB) ListUnscoredPosts(ctx context.Context, limit int) ([]domain.Post, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN channels c ON c.id = p.channel_id
		WHERE p.scored_at IS NULL
		ORDER BY p.ingested_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unscored posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

func collectPosts(rows pgx.Rows) ([]domain.Post, error) {
	var posts []domain.Post

	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}

		posts = append(posts, *p)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate post rows: %w", rows.Err())
	}

	return posts, nil
}

// UpdatePostScore persists the denormalized ranking field.
func (db *DB) UpdatePostScore(ctx context.Context, postID string, score float32) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE posts SET score = $2, scored_at = now() WHERE id = $1::uuid
	`, postID, score)
	if err != nil {
		return fmt.Errorf("update post score: %w", err)
	}

	return nil
}

// GetChannelStats computes the rolling average views per channel used to
// normalize post scores.
func (db *DB) GetChannelStats(ctx context.Context, channelIDs []string) (map[string]domain.ChannelStats, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT channel_id::text, COALESCE(AVG(views), 0), COUNT(*)
		FROM posts
		WHERE channel_id = ANY($1::uuid[])
		GROUP BY channel_id
	`, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("get channel stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]domain.ChannelStats, len(channelIDs))

	for rows.Next() {
		var s domain.ChannelStats

		if err := rows.Scan(&s.ChannelID, &s.AvgViews, &s.SampleCount); err != nil {
			return nil, fmt.Errorf("scan channel stats row: %w", err)
		}

		stats[s.ChannelID] = s
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate channel stats rows: %w", rows.Err())
	}

	return stats, nil
}

// QuotaRemaining returns how many more posts each channel may admit
// today. Channels without a counter row have the full quota left.
func (db *DB) QuotaRemaining(ctx context.Context, channelIDs []string, quota int) (map[string]int, error) {
	remaining := make(map[string]int, len(channelIDs))
	for _, id := range channelIDs {
		remaining[id] = quota
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT channel_id::text, admitted
		FROM channel_daily_quota
		WHERE day = CURRENT_DATE AND channel_id = ANY($1::uuid[])
	`, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("quota remaining: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			channelID string
			admitted  int
		)

		if err := rows.Scan(&channelID, &admitted); err != nil {
			return nil, fmt.Errorf("scan quota row: %w", err)
		}

		left := quota - admitted
		if left < 0 {
			left = 0
		}

		remaining[channelID] = left
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate quota rows: %w", rows.Err())
	}

	return remaining, nil
}

// GetPostOwner resolves the owning user of a post through its channel.
func (db *DB) GetPostOwner(ctx context.Context, postID string) (int64, error) {
	var owner int64

	err := db.Pool.QueryRow(ctx, `
		SELECT c.owner_user_id
		FROM posts p
		JOIN channels c ON c.id = p.channel_id
		WHERE p.id = $1::uuid
	`, postID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", apperrors.ErrPostNotFound, postID)
		}

		return 0, fmt.Errorf("get post owner: %w", err)
	}

	return owner, nil
}

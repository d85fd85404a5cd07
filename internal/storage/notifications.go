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

// GetActiveNotificationSettings returns the user's enabled delivery
// targets.
func (db *DB) GetActiveNotificationSettings(ctx context.Context, userID int64) ([]domain.NotificationSetting, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, user_id, chat_id, active
		FROM notification_settings
		WHERE user_id = $1 AND active
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("get active notification settings: %w", err)
	}
	defer rows.Close()

	var settings []domain.NotificationSetting

	for rows.Next() {
		var s domain.NotificationSetting

		if err := rows.Scan(&s.ID, &s.UserID, &s.ChatID, &s.Active); err != nil {
			return nil, fmt.Errorf("scan notification setting: %w", err)
		}

		settings = append(settings, s)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate notification settings: %w", rows.Err())
	}

	return settings, nil
}

// GetNotificationSetting loads one delivery target by id.
func (db *DB) GetNotificationSetting(ctx context.Context, id string) (*domain.NotificationSetting, error) {
	var s domain.NotificationSetting

	err := db.Pool.QueryRow(ctx, `
		SELECT id::text, user_id, chat_id, active
		FROM notification_settings
		WHERE id = $1::uuid
	`, id).Scan(&s.ID, &s.UserID, &s.ChatID, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: notification setting %s", apperrors.ErrNotFound, id)
		}

		return nil, fmt.Errorf("get notification setting: %w", err)
	}

	return &s, nil
}

// UpsertNotificationSetting registers or re-enables a delivery target.
func (db *DB) UpsertNotificationSetting(ctx context.Context, s *domain.NotificationSetting) error {
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO notification_settings (user_id, chat_id, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, chat_id)
		DO UPDATE SET active = EXCLUDED.active
		RETURNING id::text
	`, s.UserID, s.ChatID, s.Active).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert notification setting: %w", err)
	}

	return nil
}

// CreateNotificationAttempt inserts a pending history record and fills
// in its id. Every attempt gets its own record, retries included.
func (db *DB) CreateNotificationAttempt(ctx context.Context, h *domain.NotificationHistory) error {
	var postID interface{}
	if h.PostID != "" {
		postID = h.PostID
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO notification_history (type, setting_id, chat_id, content, status, post_id)
		VALUES ($1, $2::uuid, $3, $4, $5, $6::uuid)
		RETURNING id::text, created_at, updated_at
	`, h.Type, h.SettingID, h.ChatID, h.Content, string(h.Status), postID).
		Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create notification attempt: %w", err)
	}

	return nil
}

// FinishNotificationAttempt resolves a pending record to sent or failed.
// Only pending records can be finished; a resolved record stays as-is.
func (db *DB) FinishNotificationAttempt(ctx context.Context, id string, status domain.NotificationStatus, errMsg string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE notification_history
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1::uuid AND status = 'pending'
	`, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("finish notification attempt: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification attempt %s is not pending", apperrors.ErrConflict, id)
	}

	return nil
}

// ListRetryableNotifications returns failed attempts and pending
// attempts older than stalePending, within the sweep window, skipping
// any event that already has a newer attempt for the same target.
func (db *DB) ListRetryableNotifications(ctx context.Context, stalePending, window time.Duration, limit int) ([]domain.NotificationHistory, error) {
	now := time.Now()

	rows, err := db.Pool.Query(ctx, `
		SELECT h.id::text, h.type, h.setting_id::text, h.chat_id, h.content,
		       h.status, h.error, COALESCE(h.post_id::text, ''), h.created_at, h.updated_at
		FROM notification_history h
		WHERE h.created_at >= $1
		  AND (h.status = 'failed' OR (h.status = 'pending' AND h.created_at < $2))
		  AND NOT EXISTS (
			SELECT 1 FROM notification_history newer
			WHERE newer.type = h.type
			  AND newer.setting_id = h.setting_id
			  AND newer.post_id IS NOT DISTINCT FROM h.post_id
			  AND newer.created_at > h.created_at
		  )
		ORDER BY h.created_at ASC
		LIMIT $3
	`, now.Add(-window), now.Add(-stalePending), limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}
	defer rows.Close()

	var history []domain.NotificationHistory

	for rows.Next() {
		var (
			h      domain.NotificationHistory
			status string
		)

		err := rows.Scan(&h.ID, &h.Type, &h.SettingID, &h.ChatID, &h.Content,
			&status, &h.Error, &h.PostID, &h.CreatedAt, &h.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification history: %w", err)
		}

		h.Status = domain.NotificationStatus(status)

		history = append(history, h)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate notification history: %w", rows.Err())
	}

	return history, nil
}

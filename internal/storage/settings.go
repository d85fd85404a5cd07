package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

// GetSetting unmarshals the JSON value stored under key into target.
func (db *DB) GetSetting(ctx context.Context, key string, target interface{}) error {
	var raw []byte

	err := db.Pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: setting %s", apperrors.ErrNotFound, key)
		}

		return fmt.Errorf("get setting: %w", err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal setting %s: %w", key, err)
	}

	return nil
}

// SetSetting stores value under key as JSON, overwriting any previous
// value.
func (db *DB) SetSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, raw)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}

	return nil
}

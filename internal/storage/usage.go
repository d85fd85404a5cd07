package db

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkov/reelpipe/internal/core/domain"
)

// RecordUsage appends one ledger entry. The ledger is append-only and
// records every call that reached the model, successful or not;
// correction entries carry negative token counts to compensate earlier
// rows without rewriting them.
func (db *DB) RecordUsage(ctx context.Context, rec *domain.TokenUsageRecord) error {
	var postID interface{}
	if rec.PostID != "" {
		postID = rec.PostID
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO token_usage (post_id, stage, provider, model, prompt_tokens, completion_tokens, cost_usd, success)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at
	`, postID, string(rec.Stage), rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.CostUSD, rec.Success).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}

	return nil
}

// UsageSummaryRow is one aggregated ledger line.
type UsageSummaryRow struct {
	Day              time.Time
	Model            string
	Stage            string
	Calls            int64
	Failures         int64
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
}

// SummarizeUsage aggregates the ledger per UTC day, model and stage over
// the given window.
func (db *DB) SummarizeUsage(ctx context.Context, since time.Time) ([]UsageSummaryRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
		       model, stage,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM token_usage
		WHERE created_at >= $1
		GROUP BY day, model, stage
		ORDER BY day DESC, model, stage
	`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	var summary []UsageSummaryRow

	for rows.Next() {
		var r UsageSummaryRow

		err := rows.Scan(&r.Day, &r.Model, &r.Stage, &r.Calls, &r.Failures,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD)
		if err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}

		summary = append(summary, r)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", rows.Err())
	}

	return summary, nil
}

// TokensUsedToday returns total tokens ledgered since UTC midnight, used
// to restore the daily budget guard after a restart.
func (db *DB) TokensUsedToday(ctx context.Context) (int64, error) {
	var total int64

	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(prompt_tokens + completion_tokens), 0)
		FROM token_usage
		WHERE created_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("tokens used today: %w", err)
	}

	return total, nil
}

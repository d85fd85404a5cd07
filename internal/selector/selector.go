// Package selector chooses which scored posts enter the pipeline,
// enforcing per-channel daily quotas and a minimum score floor.
package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	"github.com/avolkov/reelpipe/internal/platform/observability"
	db "github.com/avolkov/reelpipe/internal/storage"
)

// Repository provides the read side of candidate selection. Posts
// returned by ListSelectablePosts carry no in-flight or terminal
// analysis (the in-flight guard is a storage predicate).
type Repository interface {
	ListSelectablePosts(ctx context.Context, limit int) ([]domain.Post, error)
	QuotaRemaining(ctx context.Context, channelIDs []string, quota int) (map[string]int, error)
}

var _ Repository = (*db.DB)(nil)

// Config tunes selection.
type Config struct {
	MinScore          float32
	ChannelDailyQuota int
	BatchSize         int
}

// Selector returns ordered candidate batches. It is read-only; claiming
// a candidate atomically is the orchestrator's job.
type Selector struct {
	repo   Repository
	cfg    Config
	logger *zerolog.Logger
}

func New(repo Repository, cfg Config, logger *zerolog.Logger) *Selector {
	return &Selector{repo: repo, cfg: cfg, logger: logger}
}

// Next returns the next batch of candidates: highest score first, ties
// broken by earliest ingestion timestamp, respecting each channel's
// remaining daily quota and the score floor.
func (s *Selector) Next(ctx context.Context) ([]domain.Post, error) {
	// Over-fetch so quota- and floor-excluded posts still leave a full batch.
	pool, err := s.repo.ListSelectablePosts(ctx, s.cfg.BatchSize*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("list selectable posts: %w", err)
	}

	observability.SelectionBacklog.Set(float64(len(pool)))

	if len(pool) == 0 {
		return nil, nil
	}

	remaining, err := s.repo.QuotaRemaining(ctx, channelIDs(pool), s.cfg.ChannelDailyQuota)
	if err != nil {
		return nil, fmt.Errorf("quota remaining: %w", err)
	}

	candidates := Order(pool, remaining, s.cfg.MinScore, s.cfg.BatchSize)

	s.logger.Debug().
		Int("pool", len(pool)).
		Int("candidates", len(candidates)).
		Msg("candidate selection")

	return candidates, nil
}

const overFetchFactor = 4

// Order applies the deterministic selection rules to a pool of scored
// posts: sort by score descending then ingestion time ascending, drop
// posts below the floor, and admit at most the remaining quota per
// channel. Pure function, exported for direct testing.
func Order(pool []domain.Post, remaining map[string]int, minScore float32, limit int) []domain.Post {
	sorted := make([]domain.Post, len(pool))
	copy(sorted, pool)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}

		return sorted[i].IngestedAt.Before(sorted[j].IngestedAt)
	})

	budget := make(map[string]int, len(remaining))
	for ch, n := range remaining {
		budget[ch] = n
	}

	var out []domain.Post

	for _, p := range sorted {
		if limit > 0 && len(out) >= limit {
			break
		}

		if p.Score < minScore {
			continue
		}

		if budget[p.ChannelID] <= 0 {
			continue
		}

		budget[p.ChannelID]--

		out = append(out, p)
	}

	return out
}

func channelIDs(posts []domain.Post) []string {
	seen := make(map[string]struct{}, len(posts))

	var ids []string

	for _, p := range posts {
		if _, ok := seen[p.ChannelID]; ok {
			continue
		}

		seen[p.ChannelID] = struct{}{}

		ids = append(ids, p.ChannelID)
	}

	return ids
}

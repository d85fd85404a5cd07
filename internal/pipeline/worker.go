package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
	"github.com/avolkov/reelpipe/internal/platform/observability"
	platformworker "github.com/avolkov/reelpipe/internal/platform/worker"
	"github.com/avolkov/reelpipe/internal/scoring"
	db "github.com/avolkov/reelpipe/internal/storage"
)

// BatchRepository extends Repository with the scoring read/write side
// used by the unattended batch driver.
type BatchRepository interface {
	Repository
	ListUnscoredPosts(ctx context.Context, limit int) ([]domain.Post, error)
	GetChannelStats(ctx context.Context, channelIDs []string) (map[string]domain.ChannelStats, error)
	UpdatePostScore(ctx context.Context, postID string, score float32) error
}

var _ BatchRepository = (*db.DB)(nil)

// CandidateSource supplies the next ordered candidate batch.
type CandidateSource interface {
	Next(ctx context.Context) ([]domain.Post, error)
}

// WorkerConfig tunes the unattended batch loop.
type WorkerConfig struct {
	PoolSize         int
	PollInterval     time.Duration
	RecoveryInterval time.Duration
	ScoringBatchSize int
	Weights          scoring.Weights
}

// Worker runs the unattended pipeline: many posts may be in flight
// concurrently, each post's run strictly sequential through its stages.
type Worker struct {
	cfg        WorkerConfig
	orch       *Orchestrator
	repo       BatchRepository
	candidates CandidateSource
	logger     *zerolog.Logger
}

func NewWorker(cfg WorkerConfig, orch *Orchestrator, repo BatchRepository, candidates CandidateSource, logger *zerolog.Logger) *Worker {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = defaultRecoveryInterval
	}

	if cfg.ScoringBatchSize <= 0 {
		cfg.ScoringBatchSize = defaultScoringBatchSize
	}

	return &Worker{
		cfg:        cfg,
		orch:       orch,
		repo:       repo,
		candidates: candidates,
		logger:     logger,
	}
}

// Run blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return platformworker.Loop(ctx, platformworker.Config{
		Name:         "pipeline",
		PollInterval: w.cfg.PollInterval,
		Tick:         w.tick,
		Housekeeping: []platformworker.Housekeeping{
			{
				Name:     "recover-stuck-runs",
				Interval: w.cfg.RecoveryInterval,
				Run:      w.orch.RecoverStuck,
			},
		},
		Logger: w.logger,
	})
}

func (w *Worker) tick(ctx context.Context) error {
	if err := w.scorePending(ctx); err != nil {
		return err
	}

	batch, err := w.candidates.Next(ctx)
	if err != nil {
		return fmt.Errorf("select candidates: %w", err)
	}

	if len(batch) == 0 {
		return nil
	}

	observability.CandidatesSelected.Add(float64(len(batch)))

	w.processBatch(ctx, batch)

	return nil
}

// scorePending computes and persists scores for newly ingested posts so
// the selector sees a fully ranked pool.
func (w *Worker) scorePending(ctx context.Context) error {
	posts, err := w.repo.ListUnscoredPosts(ctx, w.cfg.ScoringBatchSize)
	if err != nil {
		return fmt.Errorf("list unscored posts: %w", err)
	}

	if len(posts) == 0 {
		return nil
	}

	channelIDs := make([]string, 0, len(posts))
	seen := make(map[string]struct{}, len(posts))

	for _, p := range posts {
		if _, ok := seen[p.ChannelID]; !ok {
			seen[p.ChannelID] = struct{}{}

			channelIDs = append(channelIDs, p.ChannelID)
		}
	}

	stats, err := w.repo.GetChannelStats(ctx, channelIDs)
	if err != nil {
		return fmt.Errorf("get channel stats: %w", err)
	}

	for i := range posts {
		score := scoring.Score(&posts[i], stats[posts[i].ChannelID], w.cfg.Weights)
		if err := w.repo.UpdatePostScore(ctx, posts[i].ID, score); err != nil {
			return fmt.Errorf("update post score: %w", err)
		}
	}

	w.logger.Debug().Int("scored", len(posts)).Msg("scored pending posts")

	return nil
}

// processBatch runs the batch through a bounded pool. A lost claim race
// just means another worker got there first; the loser moves on.
func (w *Worker) processBatch(ctx context.Context, batch []domain.Post) {
	sem := make(chan struct{}, w.cfg.PoolSize)

	var wg sync.WaitGroup

	for _, post := range batch {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)

		go func(postID string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer platformworker.RecoverPanic(w.logger, "process post")

			if _, err := w.orch.Process(ctx, postID); err != nil {
				if errors.Is(err, apperrors.ErrConflict) {
					w.logger.Debug().Str("post_id", postID).Msg("lost claim race, skipping")
					return
				}

				if errors.Is(err, apperrors.ErrQuotaExceeded) {
					// Another worker spent the channel's last quota unit
					// between selection and claim. The post stays new and
					// becomes selectable again tomorrow.
					w.logger.Debug().Str("post_id", postID).Msg("channel quota spent, skipping")
					return
				}

				w.logger.Error().Err(err).Str("post_id", postID).Msg("failed to process post")
			}
		}(post.ID)
	}

	wg.Wait()
}

const (
	defaultPoolSize         = 4
	defaultRecoveryInterval = 5 * time.Minute
	defaultScoringBatchSize = 100
)

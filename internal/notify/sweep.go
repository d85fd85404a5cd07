package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	db "github.com/avolkov/reelpipe/internal/storage"
)

// SweepRepository lists attempts eligible for a retry: failed records
// and pending records whose worker died mid-send, excluding any that
// already have a newer attempt for the same event and target.
type SweepRepository interface {
	Repository
	ListRetryableNotifications(ctx context.Context, stalePending, window time.Duration, limit int) ([]domain.NotificationHistory, error)
	GetNotificationSetting(ctx context.Context, id string) (*domain.NotificationSetting, error)
}

var _ SweepRepository = (*db.DB)(nil)

// SweepConfig tunes the retry sweep.
type SweepConfig struct {
	StalePending time.Duration
	Window       time.Duration
	BatchLimit   int
}

// Sweeper re-attempts failed and stale-pending deliveries. Each retry is
// a brand-new history record; old records are never rewritten.
type Sweeper struct {
	cfg        SweepConfig
	repo       SweepRepository
	dispatcher *Dispatcher
	logger     *zerolog.Logger
}

func NewSweeper(cfg SweepConfig, repo SweepRepository, dispatcher *Dispatcher, logger *zerolog.Logger) *Sweeper {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultSweepBatchLimit
	}

	return &Sweeper{cfg: cfg, repo: repo, dispatcher: dispatcher, logger: logger}
}

// Sweep performs one pass and returns the number of re-attempts made.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	retryable, err := s.repo.ListRetryableNotifications(ctx, s.cfg.StalePending, s.cfg.Window, s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list retryable notifications: %w", err)
	}

	retried := 0

	for _, old := range retryable {
		setting, err := s.repo.GetNotificationSetting(ctx, old.SettingID)
		if err != nil {
			s.logger.Error().Err(err).Str("setting_id", old.SettingID).Msg("failed to load setting for retry")
			continue
		}

		if !setting.Active {
			continue
		}

		s.dispatcher.Attempt(ctx, old.Type, *setting, old.PostID, old.Content)

		retried++
	}

	if retried > 0 {
		s.logger.Info().Int("retried", retried).Msg("notification sweep finished")
	}

	return retried, nil
}

const defaultSweepBatchLimit = 100

// Package notify delivers pipeline event notifications to per-user
// Telegram targets and keeps an honest per-attempt delivery trail.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
	"github.com/avolkov/reelpipe/internal/platform/observability"
)

// Repository is the storage surface for settings and attempt history.
type Repository interface {
	GetActiveNotificationSettings(ctx context.Context, userID int64) ([]domain.NotificationSetting, error)
	// CreateNotificationAttempt inserts a pending history record and
	// fills in its id.
	CreateNotificationAttempt(ctx context.Context, h *domain.NotificationHistory) error
	FinishNotificationAttempt(ctx context.Context, id string, status domain.NotificationStatus, errMsg string) error
	GetPostOwner(ctx context.Context, postID string) (int64, error)
}

// Sender delivers one message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// telegramSender delivers through the Bot API.
type telegramSender struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSender authorizes the bot once at startup.
func NewTelegramSender(token string) (Sender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize notification bot: %w", err)
	}

	return &telegramSender{bot: bot}, nil
}

func (s *telegramSender) Send(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

// Dispatcher consumes pipeline completion/failure/publish events. For
// each active setting of the event's user it attempts delivery once;
// retry is the sweep's job, decoupled from the pipeline's own failure
// handling.
type Dispatcher struct {
	repo   Repository
	sender Sender
	logger *zerolog.Logger
}

func NewDispatcher(repo Repository, sender Sender, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, sender: sender, logger: logger}
}

// PipelineCompleted announces a finished run. A filtered-out post
// completes without a scenario and is announced as such.
func (d *Dispatcher) PipelineCompleted(ctx context.Context, post *domain.Post, scenario *domain.Scenario) {
	content := fmt.Sprintf("Processing complete for post %d: filtered out.", post.TGMessageID)
	if scenario != nil {
		content = fmt.Sprintf("Processing complete for post %d: scenario %q is ready for review.", post.TGMessageID, scenario.Title)
	}

	d.dispatch(ctx, domain.NotificationTypeCompleted, post.OwnerUserID, post.ID, content)
}

// PipelineFailed announces a failed run with its human-readable reason.
func (d *Dispatcher) PipelineFailed(ctx context.Context, post *domain.Post, reason string) {
	content := fmt.Sprintf("Processing failed for post %d: %s", post.TGMessageID, reason)

	d.dispatch(ctx, domain.NotificationTypeFailed, post.OwnerUserID, post.ID, content)
}

// ScenarioPublished announces a scenario reaching the published state.
func (d *Dispatcher) ScenarioPublished(ctx context.Context, scenario *domain.Scenario) {
	owner, err := d.repo.GetPostOwner(ctx, scenario.PostID)
	if err != nil {
		d.logger.Error().Err(err).Str("scenario_id", scenario.ID).Msg("failed to resolve scenario owner")
		return
	}

	content := fmt.Sprintf("Scenario %q has been published.", scenario.Title)

	d.dispatch(ctx, domain.NotificationTypePublished, owner, scenario.PostID, content)
}

func (d *Dispatcher) dispatch(ctx context.Context, eventType string, userID int64, postID, content string) {
	settings, err := d.repo.GetActiveNotificationSettings(ctx, userID)
	if err != nil {
		d.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to load notification settings")
		return
	}

	for _, setting := range settings {
		d.Attempt(ctx, eventType, setting, postID, content)
	}
}

// Attempt performs one delivery attempt with its full history lifecycle:
// a pending record before the attempt, updated to sent or failed after.
func (d *Dispatcher) Attempt(ctx context.Context, eventType string, setting domain.NotificationSetting, postID, content string) {
	attempt := &domain.NotificationHistory{
		Type:      eventType,
		SettingID: setting.ID,
		ChatID:    setting.ChatID,
		Content:   content,
		Status:    domain.NotificationStatusPending,
		PostID:    postID,
	}
	if err := d.repo.CreateNotificationAttempt(ctx, attempt); err != nil {
		d.logger.Error().Err(err).Str("type", eventType).Msg("failed to create notification attempt")
		return
	}

	if err := d.sender.Send(ctx, setting.ChatID, content); err != nil {
		d.logger.Warn().Err(err).Int64("chat_id", setting.ChatID).Str("type", eventType).Msg("notification delivery failed")
		observability.NotificationsTotal.WithLabelValues(eventType, string(domain.NotificationStatusFailed)).Inc()

		if ferr := d.repo.FinishNotificationAttempt(ctx, attempt.ID, domain.NotificationStatusFailed, err.Error()); ferr != nil {
			d.logger.Error().Err(ferr).Str("attempt_id", attempt.ID).Msg("failed to finish notification attempt")
		}

		return
	}

	observability.NotificationsTotal.WithLabelValues(eventType, string(domain.NotificationStatusSent)).Inc()

	if err := d.repo.FinishNotificationAttempt(ctx, attempt.ID, domain.NotificationStatusSent, ""); err != nil {
		d.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to finish notification attempt")
	}
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/core/domain"
)

type fakeRepo struct {
	mu sync.Mutex

	settings map[string]*domain.NotificationSetting
	byUser   map[int64][]string
	history  []*domain.NotificationHistory
	owners   map[string]int64

	retryable []domain.NotificationHistory
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		settings: map[string]*domain.NotificationSetting{},
		byUser:   map[int64][]string{},
		owners:   map[string]int64{},
	}
}

func (r *fakeRepo) addSetting(s domain.NotificationSetting) {
	r.settings[s.ID] = &s
	r.byUser[s.UserID] = append(r.byUser[s.UserID], s.ID)
}

func (r *fakeRepo) GetActiveNotificationSettings(_ context.Context, userID int64) ([]domain.NotificationSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.NotificationSetting

	for _, id := range r.byUser[userID] {
		if s := r.settings[id]; s.Active {
			out = append(out, *s)
		}
	}

	return out, nil
}

func (r *fakeRepo) GetNotificationSetting(_ context.Context, id string) (*domain.NotificationSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.settings[id]
	if !ok {
		return nil, errors.New("setting not found")
	}

	copied := *s

	return &copied, nil
}

func (r *fakeRepo) CreateNotificationAttempt(_ context.Context, h *domain.NotificationHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.ID = fmt.Sprintf("attempt-%d", len(r.history)+1)
	h.CreatedAt = time.Now()

	copied := *h
	r.history = append(r.history, &copied)

	return nil
}

func (r *fakeRepo) FinishNotificationAttempt(_ context.Context, id string, status domain.NotificationStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.history {
		if h.ID == id {
			if h.Status != domain.NotificationStatusPending {
				return errors.New("attempt is not pending")
			}

			h.Status = status
			h.Error = errMsg

			return nil
		}
	}

	return errors.New("attempt not found")
}

func (r *fakeRepo) GetPostOwner(_ context.Context, postID string) (int64, error) {
	owner, ok := r.owners[postID]
	if !ok {
		return 0, errors.New("post not found")
	}

	return owner, nil
}

func (r *fakeRepo) ListRetryableNotifications(_ context.Context, _, _ time.Duration, _ int) ([]domain.NotificationHistory, error) {
	return r.retryable, nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	chats []int64
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New("telegram: bad gateway")
	}

	s.sent = append(s.sent, text)
	s.chats = append(s.chats, chatID)

	return nil
}

func newTestDispatcher(repo Repository, sender Sender) *Dispatcher {
	logger := zerolog.Nop()
	return NewDispatcher(repo, sender, &logger)
}

func testPost() *domain.Post {
	return &domain.Post{ID: "post-1", OwnerUserID: 7, TGMessageID: 42}
}

func TestPipelineCompletedDelivery(t *testing.T) {
	repo := newFakeRepo()
	repo.addSetting(domain.NotificationSetting{ID: "set-1", UserID: 7, ChatID: 100, Active: true})

	sender := &fakeSender{}
	d := newTestDispatcher(repo, sender)

	d.PipelineCompleted(context.Background(), testPost(), &domain.Scenario{Title: "My Scenario"})

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sender.sent))
	}

	if len(repo.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(repo.history))
	}

	rec := repo.history[0]
	if rec.Status != domain.NotificationStatusSent {
		t.Fatalf("expected sent, got %s", rec.Status)
	}

	if rec.Type != domain.NotificationTypeCompleted {
		t.Fatalf("expected %s, got %s", domain.NotificationTypeCompleted, rec.Type)
	}

	if rec.PostID != "post-1" || rec.ChatID != 100 {
		t.Fatalf("history record incomplete: %+v", rec)
	}
}

func TestFailedDeliveryRecordsError(t *testing.T) {
	repo := newFakeRepo()
	repo.addSetting(domain.NotificationSetting{ID: "set-1", UserID: 7, ChatID: 100, Active: true})

	sender := &fakeSender{fail: true}
	d := newTestDispatcher(repo, sender)

	d.PipelineFailed(context.Background(), testPost(), "analyze stage: model unavailable")

	if len(repo.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(repo.history))
	}

	rec := repo.history[0]
	if rec.Status != domain.NotificationStatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}

	if rec.Error == "" {
		t.Fatal("failed attempt must record the delivery error")
	}
}

func TestDispatchFansOutPerSetting(t *testing.T) {
	repo := newFakeRepo()
	repo.addSetting(domain.NotificationSetting{ID: "set-1", UserID: 7, ChatID: 100, Active: true})
	repo.addSetting(domain.NotificationSetting{ID: "set-2", UserID: 7, ChatID: 200, Active: true})
	repo.addSetting(domain.NotificationSetting{ID: "set-3", UserID: 7, ChatID: 300, Active: false})

	sender := &fakeSender{}
	d := newTestDispatcher(repo, sender)

	d.PipelineCompleted(context.Background(), testPost(), nil)

	// Inactive settings get nothing, each active one its own record.
	if len(sender.chats) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sender.chats))
	}

	if len(repo.history) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(repo.history))
	}
}

func TestScenarioPublishedResolvesOwner(t *testing.T) {
	repo := newFakeRepo()
	repo.addSetting(domain.NotificationSetting{ID: "set-1", UserID: 9, ChatID: 500, Active: true})
	repo.owners["post-1"] = 9

	sender := &fakeSender{}
	d := newTestDispatcher(repo, sender)

	d.ScenarioPublished(context.Background(), &domain.Scenario{ID: "s1", PostID: "post-1", Title: "Launched"})

	if len(sender.chats) != 1 || sender.chats[0] != 500 {
		t.Fatalf("expected delivery to chat 500, got %v", sender.chats)
	}

	if repo.history[0].Type != domain.NotificationTypePublished {
		t.Fatalf("expected %s, got %s", domain.NotificationTypePublished, repo.history[0].Type)
	}
}

func TestSweepRetriesAsNewRecords(t *testing.T) {
	repo := newFakeRepo()
	repo.addSetting(domain.NotificationSetting{ID: "set-1", UserID: 7, ChatID: 100, Active: true})
	repo.retryable = []domain.NotificationHistory{
		{ID: "old-1", Type: domain.NotificationTypeCompleted, SettingID: "set-1", ChatID: 100, Content: "hello", Status: domain.NotificationStatusFailed, PostID: "post-1"},
	}

	sender := &fakeSender{}
	logger := zerolog.Nop()
	sweeper := NewSweeper(SweepConfig{StalePending: 10 * time.Minute, Window: 24 * time.Hour}, repo, newTestDispatcher(repo, sender), &logger)

	retried, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if retried != 1 {
		t.Fatalf("expected 1 retry, got %d", retried)
	}

	// The retry is a brand-new record; the old one is untouched.
	if len(repo.history) != 1 {
		t.Fatalf("expected 1 new history record, got %d", len(repo.history))
	}

	rec := repo.history[0]
	if rec.ID == "old-1" {
		t.Fatal("sweep must not rewrite the original record")
	}

	if rec.Status != domain.NotificationStatusSent || rec.Content != "hello" {
		t.Fatalf("retried record incomplete: %+v", rec)
	}
}

func TestSweepSkipsDeactivatedSettings(t *testing.T) {
	repo := newFakeRepo()
	repo.addSetting(domain.NotificationSetting{ID: "set-1", UserID: 7, ChatID: 100, Active: false})
	repo.retryable = []domain.NotificationHistory{
		{ID: "old-1", Type: domain.NotificationTypeCompleted, SettingID: "set-1", ChatID: 100, Content: "hello", Status: domain.NotificationStatusFailed},
	}

	sender := &fakeSender{}
	logger := zerolog.Nop()
	sweeper := NewSweeper(SweepConfig{}, repo, newTestDispatcher(repo, sender), &logger)

	retried, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if retried != 0 || len(sender.sent) != 0 {
		t.Fatalf("deactivated setting must not be retried: retried=%d sent=%d", retried, len(sender.sent))
	}
}

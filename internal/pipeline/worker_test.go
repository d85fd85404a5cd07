package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/reelpipe/internal/core/domain"
	"github.com/avolkov/reelpipe/internal/scoring"
)

// fakeBatchRepo extends fakeRepo with the scoring surface.
type fakeBatchRepo struct {
	*fakeRepo

	unscored []domain.Post
	stats    map[string]domain.ChannelStats
	scored   map[string]float32
}

func (r *fakeBatchRepo) ListUnscoredPosts(_ context.Context, _ int) ([]domain.Post, error) {
	out := r.unscored
	r.unscored = nil

	return out, nil
}

func (r *fakeBatchRepo) GetChannelStats(_ context.Context, _ []string) (map[string]domain.ChannelStats, error) {
	return r.stats, nil
}

func (r *fakeBatchRepo) UpdatePostScore(_ context.Context, postID string, score float32) error {
	r.scored[postID] = score
	return nil
}

type staticCandidates struct {
	batches [][]domain.Post
}

func (s *staticCandidates) Next(_ context.Context) ([]domain.Post, error) {
	if len(s.batches) == 0 {
		return nil, nil
	}

	next := s.batches[0]
	s.batches = s.batches[1:]

	return next, nil
}

func TestWorkerTickScoresAndProcesses(t *testing.T) {
	p1 := newPost("p1")
	p2 := newPost("p2")

	repo := &fakeBatchRepo{
		fakeRepo: newFakeRepo(p1, p2),
		unscored: []domain.Post{*p1, *p2},
		stats:    map[string]domain.ChannelStats{"ch1": {ChannelID: "ch1", AvgViews: 100}},
		scored:   map[string]float32{},
	}

	candidates := &staticCandidates{batches: [][]domain.Post{{*p1, *p2}}}

	logger := zerolog.Nop()
	w := NewWorker(WorkerConfig{
		PoolSize: 2,
		Weights:  scoring.DefaultWeights(),
	}, newTestOrchestrator(repo, happyRunner(), &fakeSink{}), repo, candidates, &logger)

	require.NoError(t, w.tick(context.Background()))

	require.Len(t, repo.scored, 2, "unscored posts must be scored before selection")

	require.Equal(t, domain.RunStatusCompleted, repo.posts["p1"].Status)
	require.Equal(t, domain.RunStatusCompleted, repo.posts["p2"].Status)
	require.NotNil(t, repo.scenarios["p1"])
	require.NotNil(t, repo.scenarios["p2"])
}

func TestWorkerTickEmptyBatchIsQuiet(t *testing.T) {
	repo := &fakeBatchRepo{
		fakeRepo: newFakeRepo(),
		scored:   map[string]float32{},
	}

	logger := zerolog.Nop()
	w := NewWorker(WorkerConfig{}, newTestOrchestrator(repo, happyRunner(), &fakeSink{}), repo, &staticCandidates{}, &logger)

	require.NoError(t, w.tick(context.Background()))
}

func TestWorkerBatchSurvivesLostClaimRace(t *testing.T) {
	p1 := newPost("p1")
	// p2 is already claimed by another worker.
	p2 := newPost("p2")
	p2.Status = domain.RunStatusFiltering

	repo := &fakeBatchRepo{
		fakeRepo: newFakeRepo(p1, p2),
		scored:   map[string]float32{},
	}

	candidates := &staticCandidates{batches: [][]domain.Post{{*p1, *p2}}}

	logger := zerolog.Nop()
	w := NewWorker(WorkerConfig{PoolSize: 1}, newTestOrchestrator(repo, happyRunner(), &fakeSink{}), repo, candidates, &logger)

	require.NoError(t, w.tick(context.Background()))

	// The loser skips quietly; the winner's claim is untouched and the
	// free post still completes.
	require.Equal(t, domain.RunStatusCompleted, repo.posts["p1"].Status)
	require.Equal(t, domain.RunStatusFiltering, repo.posts["p2"].Status)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	repo := &fakeBatchRepo{
		fakeRepo: newFakeRepo(),
		scored:   map[string]float32{},
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := zerolog.Nop()
	w := NewWorker(WorkerConfig{PollInterval: time.Millisecond}, newTestOrchestrator(repo, happyRunner(), &fakeSink{}), repo, &staticCandidates{}, &logger)

	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

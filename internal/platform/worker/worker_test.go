package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ticks := 0

	err := Loop(ctx, Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Tick: func(_ context.Context) error {
			ticks++
			if ticks >= 3 {
				cancel()
			}

			return nil
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if ticks < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}

func TestLoopOnErrorStops(t *testing.T) {
	boom := errors.New("boom")

	err := Loop(context.Background(), Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Tick: func(_ context.Context) error {
			return boom
		},
		OnError: func(error) bool { return false },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected tick error surfaced, got %v", err)
	}
}

func TestLoopContinuesPastErrorsByDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ticks := 0

	err := Loop(ctx, Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Tick: func(_ context.Context) error {
			ticks++
			if ticks >= 3 {
				cancel()
			}

			return errors.New("transient")
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected loop to continue until cancel, got %v", err)
	}

	if ticks < 3 {
		t.Fatalf("expected loop to survive tick errors, got %d ticks", ticks)
	}
}

func TestHousekeepingRunsAtInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runs := 0
	ticks := 0

	_ = Loop(ctx, Config{
		Name:         "test",
		PollInterval: time.Millisecond,
		Housekeeping: []Housekeeping{
			{
				Name:     "often",
				Interval: time.Nanosecond,
				Run:      func(_ context.Context) { runs++ },
			},
			{
				Name:     "rarely",
				Interval: time.Hour,
				Run:      func(_ context.Context) { runs += 1000 },
			},
		},
		Tick: func(_ context.Context) error {
			ticks++
			if ticks >= 5 {
				cancel()
			}

			return nil
		},
	})

	// The hour-interval task fires once at startup, then never again
	// within the test window; the nanosecond task fires every iteration.
	if runs != ticks+1000 {
		t.Fatalf("expected %d housekeeping runs, got %d", ticks+1000, runs)
	}
}

func TestWaitZeroDuration(t *testing.T) {
	if err := Wait(context.Background(), 0); err != nil {
		t.Fatalf("zero wait must return immediately: %v", err)
	}
}

func TestWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRecoverPanic(t *testing.T) {
	logger := zerolog.Nop()

	func() {
		defer RecoverPanic(&logger, "test op")
		panic("kaboom")
	}()
}

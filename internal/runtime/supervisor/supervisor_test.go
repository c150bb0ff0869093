package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoReportsFirstError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return boom })

	if err := s.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
	if got := s.Counters().Started; got != 1 {
		t.Fatalf("Counters().Started = %d, want 1", got)
	}
}

func TestGoCanceledIsCleanExit(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	s.Cancel()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error { panic("kaboom") })

	err := s.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panic in worker") {
		t.Fatalf("Wait() = %v, want panic error", err)
	}
}

func TestCancelOnErrorStopsSiblings(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })
	s.Go("blocking", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(waitCtx); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
}

func TestGoRestartRetriesUntilCanceled(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int64
	s.GoRestart("loop", func(ctx context.Context) error {
		if runs.Add(1) >= 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want 3 before deadline", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}

	s.Cancel()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int64
	s.GoRestart("once", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestGoRestartGivesUpAfterMaxRestarts(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int64
	boom := errors.New("persistent")
	s.GoRestart("doomed", func(ctx context.Context) error {
		runs.Add(1)
		return boom
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2))

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(waitCtx); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
	// Initial run plus two restarts.
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int64
	s.GoRestart("panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("kaboom")
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want 2 before deadline", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}

	s.Cancel()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestStopHonorsDeadline(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	release := make(chan struct{})
	s.Go("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(stopCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want %v", err, context.DeadlineExceeded)
	}

	close(release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

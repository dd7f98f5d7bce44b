package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"schedd/internal/eventbus"
	logx "schedd/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func fastRetry(n int) TaskOptions {
	return TaskOptions{RetryMax: n, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestRunSyncRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	var calls int32
	err := s.RunSync(context.Background(), Task{
		Name: "flaky",
		Opt:  fastRetry(3),
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	h := s.Snapshot().History
	if len(h) != 1 || h[0].Attempts != 3 || h[0].Error != "" {
		t.Fatalf("history = %+v, want one successful item with 3 attempts", h)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	permanent := errors.New("permanent")
	var calls int32
	err := s.RunSync(context.Background(), Task{
		Name: "permanent",
		Opt:  fastRetry(5),
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return NoRetry(permanent)
		},
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("RunSync() error = %v, want %v", err, permanent)
	}
	if IsNoRetry(err) {
		t.Fatalf("RunSync() error should be unwrapped from NoRetry")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	err := s.RunSync(context.Background(), Task{
		Name: "panics",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(ctx context.Context) error { panic("bad") },
	})
	if err == nil {
		t.Fatalf("RunSync() error = nil, want panic error")
	}
	// the worker survived
	if err := s.RunSync(context.Background(), Task{Name: "after", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("RunSync() after panic error = %v", err)
	}
}

func TestOverlapSkipSharesRunState(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})

	state := &RunState{}
	release := make(chan struct{})
	started := make(chan struct{})
	slow := Task{
		Name:  "batch",
		State: state,
		Opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(slow); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-started

	second := Task{Name: "batch.manual", State: state, Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(second); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("Enqueue() while running error = %v, want ErrOverlapSkip", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for state.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("run state never released")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.RunSync(context.Background(), second); err != nil {
		t.Fatalf("RunSync() after release error = %v", err)
	}
	if got := s.Snapshot().Skipped; got != 1 {
		t.Fatalf("Skipped = %d, want 1", got)
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	err := s.RunSync(context.Background(), Task{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Opt:     TaskOptions{RetryMax: -1},
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunSync() error = %v, want deadline exceeded", err)
	}
}

func TestEnqueueWhenDisabledOrStopped(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue() on disabled engine error = %v, want ErrDisabled", err)
	}

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue() before Start error = %v, want ErrStopped", err)
	}
	if err := stopped.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("Enqueue() with nil Run error = nil")
	}
}

func TestBackoffDelayCaps(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(opt, tc.retry, nil); got != tc.want {
			t.Fatalf("backoffDelay(retry=%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

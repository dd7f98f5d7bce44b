package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"schedd/internal/task/engine"
	logx "schedd/pkg/logx"
)

func newTestScheduler(t *testing.T) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, eng
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	job := func(context.Context) error { return nil }
	if _, err := s.AddSchedule("processor.batch", "*/5 * * * *", time.Second, job); err != nil {
		t.Fatalf("AddSchedule() error = %v", err)
	}
	if _, err := s.AddSchedule("processor.batch", "@every 1h", time.Second, job); err != nil {
		t.Fatalf("AddSchedule() second error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("Schedules = %d, want 1", len(snap.Schedules))
	}
	got := snap.Schedules[0]
	if got.Spec != "@every 1h" || got.Next.IsZero() {
		t.Fatalf("schedule = %+v, want @every 1h with a next fire", got)
	}
	if snap.Timezone != "UTC" {
		t.Fatalf("Timezone = %q, want UTC", snap.Timezone)
	}
}

func TestAddScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	if _, err := s.AddSchedule("bad", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("AddSchedule() with invalid cron error = nil")
	}
	if _, err := s.AddSchedule("", "1m", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("AddSchedule() without name error = nil")
	}
}

func TestAddOnceRunsThroughEngine(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	var ran int32
	done := make(chan struct{})
	_, err := s.AddOnce("processor.startup", time.Now(), time.Second, func(context.Context) error {
		if atomic.AddInt32(&ran, 1) == 1 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddOnce() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot never ran")
	}
	if len(s.Snapshot().Once) != 0 {
		t.Fatalf("one-shot still listed after firing")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	job := func(context.Context) error { return nil }
	_, _ = s.AddSchedule("a", "1m", 0, job)
	_, _ = s.AddOnce("b", time.Now().Add(time.Hour), 0, job)

	if !s.Remove("a") || !s.Remove("b") {
		t.Fatalf("Remove() = false for registered names")
	}
	if s.Remove("a") {
		t.Fatalf("Remove() twice = true")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 0 || len(snap.Once) != 0 {
		t.Fatalf("snapshot after remove = %+v", snap)
	}
}

func TestSpreadBounded(t *testing.T) {
	t.Parallel()
	for _, every := range []time.Duration{time.Second, time.Minute, time.Hour} {
		got := spreadFor(every, "processor.batch")
		if got < 0 || got >= min(every, maxStartupSpread) {
			t.Fatalf("spreadFor(%v) = %v, out of range", every, got)
		}
	}
	if got := spreadFor(0, "x"); got != 0 {
		t.Fatalf("spreadFor(0) = %v, want 0", got)
	}
}

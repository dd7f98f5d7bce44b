package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedd/internal/eventbus"
	"schedd/internal/handler"
	"schedd/internal/model"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

var (
	t0        = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	publicSeq int64
)

// scripted fails or panics for chosen event ids.
type scripted struct {
	mu      sync.Mutex
	fail    map[int64]error
	panics  map[int64]bool
	calls   map[int64]int
	hookErr []int64
}

func newScripted() *scripted {
	return &scripted{fail: map[int64]error{}, panics: map[int64]bool{}, calls: map[int64]int{}}
}

func (s *scripted) Type() string        { return "blog_post" }
func (s *scripted) Name() string        { return "scripted" }
func (s *scripted) Description() string { return "" }
func (s *scripted) AutoProcess() bool   { return true }

func (s *scripted) ProcessScheduled(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	s.calls[id]++
	err, bad := s.fail[id], s.panics[id]
	s.mu.Unlock()
	if bad {
		panic("handler exploded")
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *scripted) OnProcessError(_ context.Context, id int64, _ error) error {
	s.mu.Lock()
	s.hookErr = append(s.hookErr, id)
	s.mu.Unlock()
	return errors.New("hook failures are swallowed")
}

type fixture struct {
	p     *Processor
	store storage.Store
	h     *scripted
	reg   *handler.Registry
	clock *time.Time
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	return newFixtureOn(t, cfg, storage.NewMemory())
}

func newSQLiteFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "events.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return newFixtureOn(t, cfg, st)
}

func newFixtureOn(t *testing.T, cfg Config, st storage.Store) fixture {
	t.Helper()
	t.Cleanup(func() { _ = st.Close() })
	reg := handler.NewRegistry(logx.Nop(), nil)
	h := newScripted()
	if err := reg.Register(h, true); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	clock := t0
	seq := 0
	var mu sync.Mutex
	p := New(cfg, Deps{
		Logger:   logx.Nop(),
		Store:    st,
		Handlers: reg,
		Bus:      eventbus.New(),
		Now:      func() time.Time { return clock },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("child-%d", seq)
		},
	})
	return fixture{p: p, store: st, h: h, reg: reg, clock: &clock}
}

func (f fixture) insert(t *testing.T, mutate func(e *model.ScheduledEvent)) model.ScheduledEvent {
	t.Helper()
	e := model.ScheduledEvent{
		PublicID:         fmt.Sprintf("ev-%d", atomic.AddInt64(&publicSeq, 1)),
		Title:            "post",
		EntityType:       "blog_post",
		EntityID:         "1",
		Type:             model.TypeTask,
		HandlerType:      "blog_post",
		StartTime:        t0.Add(-time.Minute),
		EndTime:          t0.Add(59 * time.Minute),
		ProcessingStatus: model.ProcessingPending,
		AutoProcess:      true,
		Status:           model.StatusScheduled,
		OrganizerID:      "u1",
		OccurrenceIndex:  1,
		CreatedAt:        t0.Add(-time.Hour),
		UpdatedAt:        t0.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&e)
	}
	if err := f.store.InsertEvent(context.Background(), &e); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	return e
}

func (f fixture) get(t *testing.T, id int64) model.ScheduledEvent {
	t.Helper()
	e, err := f.store.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEvent(%d) error = %v", id, err)
	}
	return e
}

func TestProcessDueIsolatesFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Workers: 3, RetryDelay: 5 * time.Minute})

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.insert(t, nil).ID)
	}
	bad := ids[2]
	f.h.fail[bad] = errors.New("upstream down")

	res, err := f.p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	want := Result{Total: 5, Succeeded: 4, Failed: 1}
	if res != want {
		t.Fatalf("ProcessDue() = %+v, want %+v", res, want)
	}

	for _, id := range ids {
		e := f.get(t, id)
		if id == bad {
			if e.ProcessingStatus != model.ProcessingPending || e.ProcessingRetryCount != 1 {
				t.Fatalf("failed event = %s/%d, want pending/1", e.ProcessingStatus, e.ProcessingRetryCount)
			}
			if e.NextAttemptAt == nil || !e.NextAttemptAt.Equal(t0.Add(5*time.Minute)) {
				t.Fatalf("NextAttemptAt = %v, want %v", e.NextAttemptAt, t0.Add(5*time.Minute))
			}
			if e.ProcessingError != "upstream down" {
				t.Fatalf("ProcessingError = %q", e.ProcessingError)
			}
			continue
		}
		if e.ProcessingStatus != model.ProcessingCompleted || e.Status != model.StatusCompleted {
			t.Fatalf("event %d = %s/%s, want completed/completed", id, e.ProcessingStatus, e.Status)
		}
		if e.ProcessedAt == nil || e.CompletedBy != SystemActor {
			t.Fatalf("event %d missing completion stamps", id)
		}
	}
	if len(f.h.hookErr) != 1 || f.h.hookErr[0] != bad {
		t.Fatalf("error hook calls = %v, want [%d]", f.h.hookErr, bad)
	}
}

func TestRetryDelayIsEnforced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{RetryDelay: 5 * time.Minute})

	e := f.insert(t, nil)
	f.h.fail[e.ID] = errors.New("nope")
	if _, err := f.p.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}

	res, _ := f.p.ProcessDue(context.Background())
	if res.Total != 0 {
		t.Fatalf("second pass before delay Total = %d, want 0", res.Total)
	}

	*f.clock = t0.Add(5 * time.Minute)
	res, _ = f.p.ProcessDue(context.Background())
	if res.Total != 1 || res.Failed != 1 {
		t.Fatalf("pass after delay = %+v, want one failed attempt", res)
	}
	if got := f.get(t, e.ID).ProcessingRetryCount; got != 2 {
		t.Fatalf("retry count = %d, want 2", got)
	}
}

func TestRetryExhaustionIsTerminal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxAttempts: 3})

	e := f.insert(t, func(e *model.ScheduledEvent) { e.ProcessingRetryCount = 2 })
	f.h.fail[e.ID] = errors.New("still broken")

	res, err := f.p.ProcessDue(context.Background())
	if err != nil || res.Failed != 1 {
		t.Fatalf("ProcessDue() = %+v, %v; want one failure", res, err)
	}
	got := f.get(t, e.ID)
	if got.ProcessingStatus != model.ProcessingFailed || got.ProcessingRetryCount != 3 {
		t.Fatalf("event = %s/%d, want failed/3", got.ProcessingStatus, got.ProcessingRetryCount)
	}
	if got.Status != model.StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", got.Status)
	}

	// failed is never picked up again
	res, _ = f.p.ProcessDue(context.Background())
	if res.Total != 0 {
		t.Fatalf("pass after failure Total = %d, want 0", res.Total)
	}
}

func TestRetryWithoutDelayRunsEveryPass(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxAttempts: 3})

	e := f.insert(t, nil)
	f.h.fail[e.ID] = errors.New("flaky")
	for pass := 1; pass <= 3; pass++ {
		if res, _ := f.p.ProcessDue(context.Background()); res.Failed != 1 {
			t.Fatalf("pass %d = %+v, want one failure", pass, res)
		}
	}
	got := f.get(t, e.ID)
	if got.ProcessingStatus != model.ProcessingFailed {
		t.Fatalf("after 3 passes status = %s, want failed", got.ProcessingStatus)
	}
	if f.h.calls[e.ID] != 3 {
		t.Fatalf("handler calls = %d, want 3", f.h.calls[e.ID])
	}
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	ok := f.insert(t, nil)
	bad := f.insert(t, nil)
	f.h.panics[bad.ID] = true

	res, err := f.p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("ProcessDue() = %+v, want 1 succeeded 1 failed", res)
	}
	if got := f.get(t, bad.ID); !strings.Contains(got.ProcessingError, "handler exploded") {
		t.Fatalf("ProcessingError = %q, want panic value", got.ProcessingError)
	}
	if got := f.get(t, ok.ID); got.ProcessingStatus != model.ProcessingCompleted {
		t.Fatalf("sibling status = %s, want completed", got.ProcessingStatus)
	}
}

func TestDisabledHandlerFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if err := f.reg.SetEnabled("blog_post", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	e := f.insert(t, nil)

	res, _ := f.p.ProcessDue(context.Background())
	if res.Failed != 1 {
		t.Fatalf("ProcessDue() = %+v, want one failure", res)
	}
	got := f.get(t, e.ID)
	if !strings.Contains(got.ProcessingError, handler.ErrHandlerNotFound.Error()) {
		t.Fatalf("ProcessingError = %q, want handler not found", got.ProcessingError)
	}
	if len(f.h.hookErr) != 0 {
		t.Fatalf("error hook ran without a resolved handler")
	}
}

func TestRecurringEventSpawnsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	parent := f.insert(t, func(e *model.ScheduledEvent) {
		e.IsRecurring = true
		e.Recurrence = &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1}
		e.Attendees = []model.Attendee{{UserID: "u2", Response: model.ResponseAccepted}}
		e.HandlerData = map[string]any{"post_id": float64(7)}
	})

	res, err := f.p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if res.Succeeded != 1 || res.Spawned != 1 {
		t.Fatalf("ProcessDue() = %+v, want 1 succeeded 1 spawned", res)
	}

	children, err := f.store.ListEvents(context.Background(), storage.EventFilter{ParentEventID: parent.ID})
	if err != nil || len(children) != 1 {
		t.Fatalf("children = %d, %v; want 1", len(children), err)
	}
	child := children[0]
	if !child.StartTime.Equal(parent.StartTime.AddDate(0, 0, 1)) {
		t.Fatalf("child start = %v, want +1 day", child.StartTime)
	}
	if child.Duration() != parent.Duration() {
		t.Fatalf("child duration = %v, want %v", child.Duration(), parent.Duration())
	}
	if child.ProcessingStatus != model.ProcessingPending || child.Status != model.StatusScheduled {
		t.Fatalf("child state = %s/%s, want pending/scheduled", child.ProcessingStatus, child.Status)
	}
	if child.OccurrenceIndex != 2 || child.ProcessingRetryCount != 0 || child.ProcessingError != "" {
		t.Fatalf("child bookkeeping = %+v", child)
	}
	if child.PublicID == parent.PublicID || child.ID == parent.ID {
		t.Fatalf("child reused parent identity")
	}
	if child.Attendees[0].Response != model.ResponsePending {
		t.Fatalf("child RSVP = %s, want pending", child.Attendees[0].Response)
	}

	// replaying the parent must not duplicate the child
	p := f.get(t, parent.ID)
	p.ProcessingStatus = model.ProcessingPending
	p.Status = model.StatusScheduled
	if err := f.store.UpdateEvent(context.Background(), p); err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	res, _ = f.p.ProcessDue(context.Background())
	if res.Succeeded != 1 || res.Spawned != 0 {
		t.Fatalf("replay = %+v, want 1 succeeded 0 spawned", res)
	}
}

func TestNonRecurringAndExhaustedDoNotSpawn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	plain := f.insert(t, nil)
	last := f.insert(t, func(e *model.ScheduledEvent) {
		e.IsRecurring = true
		e.OccurrenceIndex = 3
		e.Recurrence = &model.RecurrencePattern{Frequency: model.FrequencyWeekly, Interval: 1, MaxOccurrences: 3}
	})
	ended := f.insert(t, func(e *model.ScheduledEvent) {
		end := t0
		e.IsRecurring = true
		e.Recurrence = &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1, EndDate: &end}
	})

	res, err := f.p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if res.Succeeded != 3 || res.Spawned != 0 {
		t.Fatalf("ProcessDue() = %+v, want 3 succeeded 0 spawned", res)
	}
	for _, id := range []int64{plain.ID, last.ID, ended.ID} {
		kids, _ := f.store.ListEvents(context.Background(), storage.EventFilter{ParentEventID: id})
		if len(kids) != 0 {
			t.Fatalf("event %d spawned %d children", id, len(kids))
		}
	}
}

func TestOnlyDueAutoEventsAreSelected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.insert(t, func(e *model.ScheduledEvent) { e.StartTime = t0.Add(time.Hour); e.EndTime = t0.Add(2 * time.Hour) })
	f.insert(t, func(e *model.ScheduledEvent) { e.AutoProcess = false })
	f.insert(t, func(e *model.ScheduledEvent) { e.Status = model.StatusCancelled })
	f.insert(t, func(e *model.ScheduledEvent) { d := t0; e.DeletedAt = &d })
	edge := f.insert(t, func(e *model.ScheduledEvent) { e.StartTime = t0; e.EndTime = t0.Add(time.Hour) })

	res, _ := f.p.ProcessDue(context.Background())
	if res.Total != 1 || res.Succeeded != 1 {
		t.Fatalf("ProcessDue() = %+v, want only the event starting now", res)
	}
	if got := f.get(t, edge.ID); got.ProcessingStatus != model.ProcessingCompleted {
		t.Fatalf("edge event status = %s, want completed", got.ProcessingStatus)
	}
}

// losingStore reports every claim as lost, as if another pass got there first.
type losingStore struct {
	storage.Store
}

func (losingStore) ClaimEvent(context.Context, int64, time.Time) (bool, error) { return false, nil }

func TestLostClaimIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.insert(t, nil)
	f.p.store = losingStore{f.store}

	res, err := f.p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if res != (Result{Total: 1, Skipped: 1}) {
		t.Fatalf("ProcessDue() = %+v, want one skipped", res)
	}
	for id, n := range f.h.calls {
		t.Fatalf("handler ran for event %d (%d times) after a lost claim", id, n)
	}
}

func TestCancelledWhileProcessingIsLeftAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	e := f.insert(t, nil)

	cancelling := &cancelOnRun{scripted: f.h, store: f.store}
	f.reg = handler.NewRegistry(logx.Nop(), nil)
	_ = f.reg.Register(cancelling, true)
	f.p.handlers = f.reg

	if _, err := f.p.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	got := f.get(t, e.ID)
	if got.ProcessingStatus != model.ProcessingCancelled {
		t.Fatalf("status = %s, want cancelled to survive the run", got.ProcessingStatus)
	}
}

type cancelOnRun struct {
	*scripted
	store storage.Store
}

func (c *cancelOnRun) ProcessScheduled(ctx context.Context, id int64) (bool, error) {
	e, err := c.store.GetEvent(ctx, id)
	if err != nil {
		return false, err
	}
	e.Status = model.StatusCancelled
	e.ProcessingStatus = model.ProcessingCancelled
	if err := c.store.UpdateEvent(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

func TestEventTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{EventTimeout: 10 * time.Millisecond})
	slow := &slowHandler{scripted: f.h}
	f.reg = handler.NewRegistry(logx.Nop(), nil)
	_ = f.reg.Register(slow, true)
	f.p.handlers = f.reg

	e := f.insert(t, nil)
	res, _ := f.p.ProcessDue(context.Background())
	if res.Failed != 1 {
		t.Fatalf("ProcessDue() = %+v, want one failure", res)
	}
	if got := f.get(t, e.ID); !strings.Contains(got.ProcessingError, context.DeadlineExceeded.Error()) {
		t.Fatalf("ProcessingError = %q, want deadline exceeded", got.ProcessingError)
	}
}

type slowHandler struct{ *scripted }

func (s *slowHandler) ProcessScheduled(ctx context.Context, _ int64) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestSnapshotAccumulates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{HistorySize: 2})
	f.insert(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := f.p.ProcessDue(context.Background()); err != nil {
			t.Fatalf("ProcessDue() error = %v", err)
		}
	}
	snap := f.p.Snapshot()
	if snap.Passes != 3 || len(snap.History) != 2 {
		t.Fatalf("Passes = %d, History = %d; want 3 and 2", snap.Passes, len(snap.History))
	}
	if snap.Totals.Succeeded != 1 || snap.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.LastRun == nil || snap.LastRun.Result.Total != 0 {
		t.Fatalf("LastRun = %+v, want an empty final pass", snap.LastRun)
	}
}

func TestRateLimitedDispatchHonoursContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{RateLimit: 0.001, Workers: 1})
	f.insert(t, nil)
	f.insert(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := f.p.ProcessDue(ctx)
	if err == nil {
		t.Fatalf("ProcessDue() error = nil, want limiter wait error")
	}
	if res.Total != 1 || res.Succeeded != 1 {
		t.Fatalf("ProcessDue() = %+v, want only the burst token dispatched", res)
	}
}

// cancelPass cancels the surrounding pass from inside the handler and then
// reports success, as a shutdown landing mid-run would.
type cancelPass struct {
	*scripted
	cancel context.CancelFunc
}

func (c *cancelPass) ProcessScheduled(ctx context.Context, id int64) (bool, error) {
	c.cancel()
	return c.scripted.ProcessScheduled(ctx, id)
}

func TestCancelledPassStillRecordsOutcome(t *testing.T) {
	t.Parallel()
	f := newSQLiteFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.reg.Register(&cancelPass{scripted: f.h, cancel: cancel}, true); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	parent := f.insert(t, func(e *model.ScheduledEvent) {
		e.IsRecurring = true
		e.Recurrence = &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1}
	})

	res, err := f.p.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if res.Succeeded != 1 || res.Spawned != 1 {
		t.Fatalf("ProcessDue() = %+v, want 1 succeeded 1 spawned", res)
	}
	got := f.get(t, parent.ID)
	if got.ProcessingStatus != model.ProcessingCompleted || got.Status != model.StatusCompleted {
		t.Fatalf("state = %s/%s, want completed/completed", got.ProcessingStatus, got.Status)
	}
	children, err := f.store.ListEvents(context.Background(), storage.EventFilter{ParentEventID: parent.ID})
	if err != nil || len(children) != 1 {
		t.Fatalf("children = %d, %v; want 1", len(children), err)
	}
}

func TestCancelledPassStillRecordsFailure(t *testing.T) {
	t.Parallel()
	f := newSQLiteFixture(t, Config{MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.reg.Register(&cancelPass{scripted: f.h, cancel: cancel}, true); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	e := f.insert(t, nil)
	f.h.fail[e.ID] = errors.New("upstream down")

	res, _ := f.p.ProcessDue(ctx)
	if res.Failed != 1 {
		t.Fatalf("ProcessDue() = %+v, want 1 failed", res)
	}
	got := f.get(t, e.ID)
	if got.ProcessingStatus != model.ProcessingPending || got.ProcessingRetryCount != 1 {
		t.Fatalf("state = %s retries=%d, want pending/1", got.ProcessingStatus, got.ProcessingRetryCount)
	}
}

func TestReclaimStrandedEvents(t *testing.T) {
	t.Parallel()
	f := newSQLiteFixture(t, Config{MaxAttempts: 2})
	ctx := context.Background()

	fresh := f.insert(t, func(e *model.ScheduledEvent) { e.ProcessingStatus = model.ProcessingProcessing })
	spent := f.insert(t, func(e *model.ScheduledEvent) {
		e.ProcessingStatus = model.ProcessingProcessing
		e.ProcessingRetryCount = 1
	})
	idle := f.insert(t, nil)

	n, err := f.p.Reclaim(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Reclaim() = %d, %v; want 2", n, err)
	}
	if got := f.get(t, fresh.ID); got.ProcessingStatus != model.ProcessingPending || got.ProcessingRetryCount != 1 || got.ProcessingError != ErrInterrupted.Error() {
		t.Fatalf("fresh = %s retries=%d err=%q", got.ProcessingStatus, got.ProcessingRetryCount, got.ProcessingError)
	}
	if got := f.get(t, spent.ID); got.ProcessingStatus != model.ProcessingFailed {
		t.Fatalf("spent = %s, want failed", got.ProcessingStatus)
	}
	if got := f.get(t, idle.ID); got.ProcessingRetryCount != 0 || got.ProcessingStatus != model.ProcessingPending {
		t.Fatalf("idle event touched: %+v", got)
	}

	// the reclaimed row is due again
	res, err := f.p.ProcessDue(ctx)
	if err != nil || res.Succeeded != 2 {
		t.Fatalf("ProcessDue() = %+v, %v; want 2 succeeded", res, err)
	}
}

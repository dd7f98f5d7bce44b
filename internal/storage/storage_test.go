package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedd/internal/model"
	logx "schedd/pkg/logx"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newEvent(publicID, organizer string, start time.Time) *model.ScheduledEvent {
	return &model.ScheduledEvent{
		PublicID:         publicID,
		Title:            "t-" + publicID,
		EntityType:       "post",
		EntityID:         "1",
		Type:             model.TypeTask,
		HandlerType:      "blog_post",
		StartTime:        start,
		EndTime:          start.Add(30 * time.Minute),
		ProcessingStatus: model.ProcessingPending,
		Status:           model.StatusScheduled,
		AutoProcess:      true,
		OrganizerID:      organizer,
		Attendees: []model.Attendee{
			{UserID: "guest", Response: model.ResponsePending},
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "events.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "events.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
	}
}

func TestEventRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			e := newEvent("a", "alice", base)
			e.HandlerData = map[string]any{"post_id": float64(7)}
			if err := st.InsertEvent(ctx, e); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if e.ID == 0 {
				t.Fatalf("expected id to be assigned")
			}

			got, err := st.GetEvent(ctx, e.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Title != "t-a" || !got.StartTime.Equal(base) || got.HandlerData["post_id"] != float64(7) {
				t.Fatalf("unexpected event: %+v", got)
			}

			byPublic, err := st.GetEventByPublicID(ctx, "a")
			if err != nil || byPublic.ID != e.ID {
				t.Fatalf("get by public id: %v %+v", err, byPublic)
			}

			got.Title = "renamed"
			if err := st.UpdateEvent(ctx, got); err != nil {
				t.Fatalf("update: %v", err)
			}
			again, _ := st.GetEvent(ctx, e.ID)
			if again.Title != "renamed" {
				t.Fatalf("update not persisted: %q", again.Title)
			}

			if _, err := st.GetEvent(ctx, 999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			missing := got
			missing.ID = 999
			if err := st.UpdateEvent(ctx, missing); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on update, got %v", err)
			}
		})
	}
}

func TestListEventsFilter(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			early := newEvent("early", "alice", base)
			late := newEvent("late", "alice", base.Add(2*time.Hour))
			other := newEvent("other", "bob", base.Add(time.Hour))
			other.Attendees = nil
			gone := newEvent("gone", "alice", base.Add(time.Hour))
			at := base
			gone.DeletedAt = &at
			cancelled := newEvent("cancelled", "alice", base.Add(3*time.Hour))
			cancelled.Status = model.StatusCancelled
			// insert out of order; results are ordered by start
			for _, e := range []*model.ScheduledEvent{late, other, early, gone, cancelled} {
				if err := st.InsertEvent(ctx, e); err != nil {
					t.Fatalf("insert %s: %v", e.PublicID, err)
				}
			}

			cases := []struct {
				name string
				f    EventFilter
				want []string
			}{
				{"all active rows", EventFilter{}, []string{"early", "other", "late", "cancelled"}},
				{"organizer", EventFilter{OrganizerID: "alice", ActiveOnly: true}, []string{"early", "late"}},
				{"participant", EventFilter{Participant: "guest"}, []string{"early", "late", "cancelled"}},
				{"window", EventFilter{StartTo: base.Add(90 * time.Minute), EndAfter: base.Add(20 * time.Minute)}, []string{"early", "other"}},
				{"include deleted", EventFilter{OrganizerID: "alice", StartFrom: base.Add(time.Hour), StartTo: base.Add(time.Hour + time.Millisecond), IncludeDeleted: true}, []string{"gone"}},
				{"statuses", EventFilter{Statuses: []model.EventStatus{model.StatusCancelled}}, []string{"cancelled"}},
				{"exclude", EventFilter{OrganizerID: "bob", ExcludeID: other.ID}, nil},
				{"limit", EventFilter{Limit: 2}, []string{"early", "other"}},
			}
			for _, tc := range cases {
				got, err := st.ListEvents(ctx, tc.f)
				if err != nil {
					t.Fatalf("%s: list: %v", tc.name, err)
				}
				if len(got) != len(tc.want) {
					t.Fatalf("%s: got %d rows, want %v", tc.name, len(got), tc.want)
				}
				for i := range got {
					if got[i].PublicID != tc.want[i] {
						t.Fatalf("%s: row %d = %s, want %s", tc.name, i, got[i].PublicID, tc.want[i])
					}
				}
			}
		})
	}
}

func TestListEventsAttemptDue(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			ready := newEvent("ready", "alice", base)
			later := newEvent("later", "alice", base)
			next := base.Add(10 * time.Minute)
			later.NextAttemptAt = &next
			_ = st.InsertEvent(ctx, ready)
			_ = st.InsertEvent(ctx, later)

			auto := true
			f := EventFilter{
				ProcessingStatuses: []model.ProcessingStatus{model.ProcessingPending},
				AutoProcess:        &auto,
				StartTo:            base.Add(time.Minute),
				AttemptDueAt:       base.Add(time.Minute),
			}
			got, err := st.ListEvents(ctx, f)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 1 || got[0].PublicID != "ready" {
				t.Fatalf("unexpected due rows: %+v", got)
			}

			f.AttemptDueAt = next
			got, _ = st.ListEvents(ctx, f)
			if len(got) != 2 {
				t.Fatalf("expected both rows once retry is due, got %d", len(got))
			}
		})
	}
}

func TestClaimEventIsExclusive(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			e := newEvent("claim", "alice", base)
			if err := st.InsertEvent(ctx, e); err != nil {
				t.Fatalf("insert: %v", err)
			}

			var (
				wg  sync.WaitGroup
				won atomic.Int32
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := st.ClaimEvent(ctx, e.ID, base)
					if err != nil {
						t.Errorf("claim: %v", err)
						return
					}
					if ok {
						won.Add(1)
					}
				}()
			}
			wg.Wait()
			if won.Load() != 1 {
				t.Fatalf("expected exactly one winner, got %d", won.Load())
			}
			got, _ := st.GetEvent(ctx, e.ID)
			if got.ProcessingStatus != model.ProcessingProcessing {
				t.Fatalf("expected processing, got %s", got.ProcessingStatus)
			}
		})
	}
}

func TestPreferencesLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			if _, err := st.GetPreferences(ctx, "alice"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			p := model.AvailabilityPreferences{
				UserID:   "alice",
				Timezone: "UTC",
				WorkingHours: []model.WorkingHours{
					{DayOfWeek: 1, Start: "09:00", End: "17:00", IsAvailable: true},
				},
				BufferTime: 10,
				CreatedAt:  base,
				UpdatedAt:  base,
			}
			first, err := st.SavePreferences(ctx, p)
			if err != nil {
				t.Fatalf("save: %v", err)
			}

			p.BufferTime = 15
			p.CreatedAt = base.Add(time.Hour)
			second, err := st.SavePreferences(ctx, p)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if second.ID != first.ID || !second.CreatedAt.Equal(base) {
				t.Fatalf("update should keep identity and creation time: %+v", second)
			}

			if err := st.DeletePreferences(ctx, "alice", "admin", base); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := st.GetPreferences(ctx, "alice"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("deleted preferences should not be active, got %v", err)
			}

			third, err := st.SavePreferences(ctx, p)
			if err != nil {
				t.Fatalf("recreate: %v", err)
			}
			if third.ID == first.ID {
				t.Fatalf("expected a fresh record after delete")
			}
			got, _ := st.GetPreferences(ctx, "alice")
			if got.BufferTime != 15 || len(got.WorkingHours) != 1 {
				t.Fatalf("unexpected preferences: %+v", got)
			}
		})
	}
}

func TestPublishPostIdempotent(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			p, err := st.CreatePost(ctx, Post{Title: "hello", CreatedAt: base, UpdatedAt: base})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			first, err := st.PublishPost(ctx, p.ID, base.Add(time.Minute))
			if err != nil || !first.Published || first.PublishedAt == nil {
				t.Fatalf("publish: %v %+v", err, first)
			}
			second, err := st.PublishPost(ctx, p.ID, base.Add(time.Hour))
			if err != nil {
				t.Fatalf("republish: %v", err)
			}
			if !second.PublishedAt.Equal(*first.PublishedAt) {
				t.Fatalf("publish time changed: %v -> %v", first.PublishedAt, second.PublishedAt)
			}
			if _, err := st.PublishPost(ctx, 404, base); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			list, _ := st.ListPosts(ctx)
			if len(list) != 1 {
				t.Fatalf("expected one post, got %d", len(list))
			}
		})
	}
}

func TestFileStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := newEvent("persist", "alice", base)
	if err := st.InsertEvent(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.GetEventByPublicID(ctx, "persist")
	if err != nil || got.ID != e.ID {
		t.Fatalf("reload: %v %+v", err, got)
	}
	next := newEvent("next", "alice", base)
	_ = st.InsertEvent(ctx, next)
	if next.ID <= e.ID {
		t.Fatalf("sequence not restored: %d <= %d", next.ID, e.ID)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

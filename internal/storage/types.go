package storage

import (
	"context"
	"errors"
	"time"

	"schedd/internal/model"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, lost on exit (default)
//   - "file": in-process maps persisted to a JSON snapshot at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventFilter selects scheduled events. Zero fields do not constrain.
//
// StartFrom/StartTo bound StartTime as [StartFrom, StartTo). EndAfter keeps
// events whose EndTime is after it, so StartTo+EndAfter select events
// intersecting a window.
type EventFilter struct {
	EntityType  string
	EntityID    string
	HandlerType string
	OrganizerID string
	// Participant matches events organized by or attended by this user.
	Participant string

	StartFrom time.Time
	StartTo   time.Time
	EndAfter  time.Time

	ProcessingStatuses []model.ProcessingStatus
	Statuses           []model.EventStatus
	// ActiveOnly drops cancelled and completed events.
	ActiveOnly bool

	AutoProcess *bool
	// AttemptDueAt keeps events whose NextAttemptAt is unset or not after it.
	AttemptDueAt time.Time

	ParentEventID  int64
	ExcludeID      int64
	IncludeDeleted bool

	Limit int
}

// Match reports whether e satisfies f.
func (f EventFilter) Match(e model.ScheduledEvent) bool {
	if !f.IncludeDeleted && e.Deleted() {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.HandlerType != "" && e.HandlerType != f.HandlerType {
		return false
	}
	if f.OrganizerID != "" && e.OrganizerID != f.OrganizerID {
		return false
	}
	if f.Participant != "" && e.OrganizerID != f.Participant && e.Attendee(f.Participant) < 0 {
		return false
	}
	if !f.StartFrom.IsZero() && e.StartTime.Before(f.StartFrom) {
		return false
	}
	if !f.StartTo.IsZero() && !e.StartTime.Before(f.StartTo) {
		return false
	}
	if !f.EndAfter.IsZero() && !e.EndTime.After(f.EndAfter) {
		return false
	}
	if len(f.ProcessingStatuses) > 0 && !containsProcessing(f.ProcessingStatuses, e.ProcessingStatus) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if f.ActiveOnly && !e.Status.Active() {
		return false
	}
	if f.AutoProcess != nil && e.AutoProcess != *f.AutoProcess {
		return false
	}
	if !f.AttemptDueAt.IsZero() && e.NextAttemptAt != nil && e.NextAttemptAt.After(f.AttemptDueAt) {
		return false
	}
	if f.ParentEventID != 0 && e.ParentEventID != f.ParentEventID {
		return false
	}
	if f.ExcludeID != 0 && e.ID == f.ExcludeID {
		return false
	}
	return true
}

func containsProcessing(list []model.ProcessingStatus, v model.ProcessingStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsStatus(list []model.EventStatus, v model.EventStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Post is the subject record of the blog_post handler.
type Post struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EventStore persists scheduled events.
type EventStore interface {
	// InsertEvent assigns e.ID.
	InsertEvent(ctx context.Context, e *model.ScheduledEvent) error
	GetEvent(ctx context.Context, id int64) (model.ScheduledEvent, error)
	GetEventByPublicID(ctx context.Context, publicID string) (model.ScheduledEvent, error)
	UpdateEvent(ctx context.Context, e model.ScheduledEvent) error
	// ClaimEvent moves a pending event to processing. It returns false when
	// the event is no longer pending.
	ClaimEvent(ctx context.Context, id int64, at time.Time) (bool, error)
	// ListEvents returns matches ordered by StartTime, then ID.
	ListEvents(ctx context.Context, f EventFilter) ([]model.ScheduledEvent, error)
}

// PreferencesStore persists one active AvailabilityPreferences per user.
type PreferencesStore interface {
	GetPreferences(ctx context.Context, userID string) (model.AvailabilityPreferences, error)
	// SavePreferences updates the active record or creates a fresh one.
	SavePreferences(ctx context.Context, p model.AvailabilityPreferences) (model.AvailabilityPreferences, error)
	DeletePreferences(ctx context.Context, userID, by string, at time.Time) error
}

type PostStore interface {
	CreatePost(ctx context.Context, p Post) (Post, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	ListPosts(ctx context.Context) ([]Post, error)
	PublishPost(ctx context.Context, id int64, at time.Time) (Post, error)
}

// Store is the persistence API used by the engine.
type Store interface {
	EventStore
	PreferencesStore
	PostStore
	Close() error
}

// DueFilter selects events the batch processor may pick up at now.
func DueFilter(now time.Time, limit int) EventFilter {
	auto := true
	return EventFilter{
		ProcessingStatuses: []model.ProcessingStatus{model.ProcessingPending},
		Statuses:           []model.EventStatus{model.StatusScheduled},
		AutoProcess:        &auto,
		// StartTo is exclusive; one millisecond keeps start == now eligible.
		StartTo:      now.Add(time.Millisecond),
		AttemptDueAt: now,
		Limit:        limit,
	}
}

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"schedd/internal/model"
)

// memoryStore keeps everything in maps. All returned values are copies.
type memoryStore struct {
	mu sync.Mutex

	events  map[int64]model.ScheduledEvent
	eventID int64

	// prefs holds every record ever saved, active or deleted.
	prefs   []model.AvailabilityPreferences
	prefsID int64

	posts  map[int64]Post
	postID int64

	closed bool

	// onChange runs with mu held after every successful mutation.
	onChange func() error
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		events: map[int64]model.ScheduledEvent{},
		posts:  map[int64]Post{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) changedLocked() error {
	if s.onChange == nil {
		return nil
	}
	return s.onChange()
}

func (s *memoryStore) InsertEvent(ctx context.Context, e *model.ScheduledEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.eventID++
	e.ID = s.eventID
	s.events[e.ID] = e.Clone()
	return s.changedLocked()
}

func (s *memoryStore) GetEvent(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ScheduledEvent{}, ErrClosed
	}
	e, ok := s.events[id]
	if !ok {
		return model.ScheduledEvent{}, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *memoryStore) GetEventByPublicID(ctx context.Context, publicID string) (model.ScheduledEvent, error) {
	_ = ctx
	publicID = strings.TrimSpace(publicID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ScheduledEvent{}, ErrClosed
	}
	for _, e := range s.events {
		if e.PublicID == publicID {
			return e.Clone(), nil
		}
	}
	return model.ScheduledEvent{}, ErrNotFound
}

func (s *memoryStore) UpdateEvent(ctx context.Context, e model.ScheduledEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.events[e.ID]; !ok {
		return ErrNotFound
	}
	s.events[e.ID] = e.Clone()
	return s.changedLocked()
}

func (s *memoryStore) ClaimEvent(ctx context.Context, id int64, at time.Time) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	e, ok := s.events[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.ProcessingStatus != model.ProcessingPending || e.Deleted() {
		return false, nil
	}
	e.ProcessingStatus = model.ProcessingProcessing
	e.UpdatedAt = at
	s.events[id] = e
	return true, s.changedLocked()
}

func (s *memoryStore) ListEvents(ctx context.Context, f EventFilter) ([]model.ScheduledEvent, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.ScheduledEvent, 0)
	for _, e := range s.events {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memoryStore) activePrefsLocked(userID string) int {
	for i, p := range s.prefs {
		if p.UserID == userID && p.DeletedAt == nil {
			return i
		}
	}
	return -1
}

func (s *memoryStore) GetPreferences(ctx context.Context, userID string) (model.AvailabilityPreferences, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.AvailabilityPreferences{}, ErrClosed
	}
	i := s.activePrefsLocked(strings.TrimSpace(userID))
	if i < 0 {
		return model.AvailabilityPreferences{}, ErrNotFound
	}
	return clonePrefs(s.prefs[i]), nil
}

func (s *memoryStore) SavePreferences(ctx context.Context, p model.AvailabilityPreferences) (model.AvailabilityPreferences, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.AvailabilityPreferences{}, ErrClosed
	}
	p = clonePrefs(p)
	p.DeletedAt = nil
	p.DeletedBy = ""
	if i := s.activePrefsLocked(p.UserID); i >= 0 {
		p.ID = s.prefs[i].ID
		p.CreatedAt = s.prefs[i].CreatedAt
		s.prefs[i] = p
	} else {
		s.prefsID++
		p.ID = s.prefsID
		s.prefs = append(s.prefs, p)
	}
	return clonePrefs(p), s.changedLocked()
}

func (s *memoryStore) DeletePreferences(ctx context.Context, userID, by string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	i := s.activePrefsLocked(strings.TrimSpace(userID))
	if i < 0 {
		return ErrNotFound
	}
	s.prefs[i].DeletedAt = &at
	s.prefs[i].DeletedBy = by
	s.prefs[i].UpdatedAt = at
	return s.changedLocked()
}

func (s *memoryStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Post{}, ErrClosed
	}
	s.postID++
	p.ID = s.postID
	s.posts[p.ID] = p
	return p, s.changedLocked()
}

func (s *memoryStore) GetPost(ctx context.Context, id int64) (Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Post{}, ErrClosed
	}
	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return p, nil
}

func (s *memoryStore) ListPosts(ctx context.Context) ([]Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) PublishPost(ctx context.Context, id int64, at time.Time) (Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Post{}, ErrClosed
	}
	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	if p.Published {
		return p, nil
	}
	p.Published = true
	p.PublishedAt = &at
	p.UpdatedAt = at
	s.posts[id] = p
	return p, s.changedLocked()
}

func clonePrefs(p model.AvailabilityPreferences) model.AvailabilityPreferences {
	p.WorkingHours = append([]model.WorkingHours(nil), p.WorkingHours...)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		p.DeletedAt = &t
	}
	return p
}

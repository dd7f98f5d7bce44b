package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedd/internal/handler"
	"schedd/internal/model"
	"schedd/internal/storage"
)

// Get returns a live event. Deleted events report ErrDeleted.
func (s *Service) Get(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	return s.loadLive(ctx, id)
}

func (s *Service) GetByPublicID(ctx context.Context, publicID string) (model.ScheduledEvent, error) {
	e, err := s.store.GetEventByPublicID(ctx, publicID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %s", ErrNotFound, publicID)
	}
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	if e.Deleted() {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %s", ErrDeleted, publicID)
	}
	return e, nil
}

func (s *Service) ListByEntity(ctx context.Context, entityType, entityID string) ([]model.ScheduledEvent, error) {
	return s.store.ListEvents(ctx, storage.EventFilter{
		EntityType: strings.TrimSpace(entityType),
		EntityID:   strings.TrimSpace(entityID),
	})
}

func (s *Service) ListByHandler(ctx context.Context, handlerType string) ([]model.ScheduledEvent, error) {
	return s.store.ListEvents(ctx, storage.EventFilter{HandlerType: strings.TrimSpace(handlerType)})
}

// ListByOrganizer returns the organizer's events starting in [from, to).
// Zero bounds are open.
func (s *Service) ListByOrganizer(ctx context.Context, organizerID string, from, to time.Time) ([]model.ScheduledEvent, error) {
	return s.store.ListEvents(ctx, storage.EventFilter{
		OrganizerID: strings.TrimSpace(organizerID),
		StartFrom:   from,
		StartTo:     to,
	})
}

// ListInRange returns events intersecting [from, to).
func (s *Service) ListInRange(ctx context.Context, from, to time.Time) ([]model.ScheduledEvent, error) {
	if !from.Before(to) {
		var verr model.ValidationError
		verr.Add("range", "start must be before end")
		return nil, verr.Err()
	}
	return s.store.ListEvents(ctx, storage.EventFilter{StartTo: to, EndAfter: from})
}

// ListPending returns events due for automatic processing now.
func (s *Service) ListPending(ctx context.Context, limit int) ([]model.ScheduledEvent, error) {
	return s.store.ListEvents(ctx, storage.DueFilter(s.now().UTC(), limit))
}

func (s *Service) ListFailed(ctx context.Context) ([]model.ScheduledEvent, error) {
	return s.store.ListEvents(ctx, storage.EventFilter{
		ProcessingStatuses: []model.ProcessingStatus{model.ProcessingFailed},
	})
}

// ListChildren returns occurrences spawned from parentID.
func (s *Service) ListChildren(ctx context.Context, parentID int64) ([]model.ScheduledEvent, error) {
	return s.store.ListEvents(ctx, storage.EventFilter{ParentEventID: parentID})
}

// EventData asks the event's handler for its display projection. Handlers
// without one yield nil.
func (s *Service) EventData(ctx context.Context, id int64) (map[string]any, error) {
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := s.handlers.Resolve(e.HandlerType)
	if err != nil {
		return nil, err
	}
	p, ok := h.(handler.EventDataProvider)
	if !ok {
		return nil, nil
	}
	return p.EventData(ctx, e.ID)
}

// Conflicts exposes the conflict check used by Create and Reschedule.
func (s *Service) Conflicts(ctx context.Context, start, end time.Time, organizerID string, excludeID int64) ([]model.ScheduledEvent, error) {
	if s.conflicts == nil {
		return nil, nil
	}
	return s.conflicts.CheckConflicts(ctx, start, end, organizerID, excludeID)
}

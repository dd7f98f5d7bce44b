// Package scheduling holds the mutation operations and reads over scheduled
// events: create, update, cancel, complete, reschedule, RSVP, delete and
// requeue. Each operation validates, stamps the acting user and persists
// through storage.EventStore.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedd/internal/eventbus"
	"schedd/internal/handler"
	"schedd/internal/model"
	"schedd/internal/recurrence"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

// ConflictChecker finds an organizer's active events overlapping [start, end).
type ConflictChecker interface {
	CheckConflicts(ctx context.Context, start, end time.Time, organizerID string, excludeID int64) ([]model.ScheduledEvent, error)
}

type Deps struct {
	Logger    logx.Logger
	Store     storage.EventStore
	Handlers  *handler.Registry
	Conflicts ConflictChecker
	Bus       eventbus.Bus
	Now       func() time.Time
	NewID     func() string
}

type Service struct {
	log       logx.Logger
	store     storage.EventStore
	handlers  *handler.Registry
	conflicts ConflictChecker
	bus       eventbus.Bus
	now       func() time.Time
	newID     func() string
}

func New(d Deps) *Service {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log.With(logx.String("comp", "scheduling")),
		store:     d.Store,
		handlers:  d.Handlers,
		conflicts: d.Conflicts,
		bus:       d.Bus,
		now:       d.Now,
		newID:     d.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// CreateInput describes a new event. AutoProcess nil takes the handler default.
type CreateInput struct {
	Title       string                   `json:"title"`
	Description string                   `json:"description,omitempty"`
	Location    string                   `json:"location,omitempty"`
	EntityType  string                   `json:"entity_type"`
	EntityID    string                   `json:"entity_id"`
	Type        model.EventType          `json:"type,omitempty"`
	HandlerType string                   `json:"handler_type"`
	HandlerData map[string]any           `json:"handler_data,omitempty"`
	StartTime   time.Time                `json:"start_time"`
	EndTime     time.Time                `json:"end_time"`
	Timezone    string                   `json:"timezone,omitempty"`
	AllDay      bool                     `json:"all_day,omitempty"`
	IsRecurring bool                     `json:"is_recurring,omitempty"`
	Recurrence  *model.RecurrencePattern `json:"recurrence,omitempty"`
	AutoProcess *bool                    `json:"auto_process,omitempty"`
	OrganizerID string                   `json:"organizer_id"`
	Attendees   []model.Attendee         `json:"attendees,omitempty"`

	// CheckConflicts rejects the event when the organizer is already busy.
	CheckConflicts bool `json:"check_conflicts,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.ScheduledEvent, error) {
	var verr model.ValidationError
	in.Title = strings.TrimSpace(in.Title)
	in.EntityType = strings.TrimSpace(in.EntityType)
	in.EntityID = strings.TrimSpace(in.EntityID)
	in.HandlerType = strings.TrimSpace(in.HandlerType)
	in.OrganizerID = strings.TrimSpace(in.OrganizerID)

	if in.Title == "" {
		verr.Add("title", "is required")
	}
	if in.EntityType == "" {
		verr.Add("entity_type", "is required")
	}
	if in.EntityID == "" {
		verr.Add("entity_id", "is required")
	}
	if in.OrganizerID == "" {
		verr.Add("organizer_id", "is required")
	}
	checkTimes(&verr, in.StartTime, in.EndTime)
	if in.Type == "" {
		in.Type = model.TypeOther
	} else if !in.Type.Valid() {
		verr.Add("type", fmt.Sprintf("unknown event type %q", in.Type))
	}
	checkRecurrence(&verr, in.IsRecurring, in.Recurrence)
	attendees := normalizeAttendees(&verr, in.Attendees)

	h := s.resolveForValidation(&verr, in.HandlerType)
	if h != nil {
		validateHandlerInput(&verr, h, in.EntityType, in.EntityID, in.HandlerData)
	}
	if err := verr.Err(); err != nil {
		return model.ScheduledEvent{}, err
	}

	if in.CheckConflicts {
		if err := s.ensureFree(ctx, in.StartTime, in.EndTime, in.OrganizerID, 0); err != nil {
			return model.ScheduledEvent{}, err
		}
	}

	auto := h.AutoProcess()
	if in.AutoProcess != nil {
		auto = *in.AutoProcess
	}
	actor := ActorFromContext(ctx)
	now := s.now().UTC()

	e := model.ScheduledEvent{
		PublicID:         s.newID(),
		Title:            in.Title,
		Description:      in.Description,
		Location:         in.Location,
		EntityType:       in.EntityType,
		EntityID:         in.EntityID,
		Type:             in.Type,
		HandlerType:      in.HandlerType,
		HandlerData:      in.HandlerData,
		StartTime:        in.StartTime.UTC(),
		EndTime:          in.EndTime.UTC(),
		Timezone:         strings.TrimSpace(in.Timezone),
		AllDay:           in.AllDay,
		IsRecurring:      in.IsRecurring,
		OccurrenceIndex:  1,
		ProcessingStatus: model.ProcessingPending,
		AutoProcess:      auto,
		Status:           model.StatusScheduled,
		OrganizerID:      in.OrganizerID,
		Attendees:        attendees,
		CreatedAt:        now,
		CreatedBy:        actor.ID,
		UpdatedAt:        now,
		UpdatedBy:        actor.ID,
	}
	if in.IsRecurring {
		e.Recurrence = in.Recurrence
	}
	if err := s.store.InsertEvent(ctx, &e); err != nil {
		return model.ScheduledEvent{}, err
	}

	s.log.Info("event created",
		logx.Int64("id", e.ID), logx.String("handler", e.HandlerType),
		logx.Time("start", e.StartTime), logx.Bool("auto", e.AutoProcess))
	s.publish(eventbus.EventCreated, e)
	return e, nil
}

// UpdateInput is a partial patch. Nil fields are left unchanged.
type UpdateInput struct {
	Title       *string                  `json:"title,omitempty"`
	Description *string                  `json:"description,omitempty"`
	Location    *string                  `json:"location,omitempty"`
	Type        *model.EventType         `json:"type,omitempty"`
	HandlerType *string                  `json:"handler_type,omitempty"`
	HandlerData map[string]any           `json:"handler_data,omitempty"`
	StartTime   *time.Time               `json:"start_time,omitempty"`
	EndTime     *time.Time               `json:"end_time,omitempty"`
	Timezone    *string                  `json:"timezone,omitempty"`
	AllDay      *bool                    `json:"all_day,omitempty"`
	IsRecurring *bool                    `json:"is_recurring,omitempty"`
	Recurrence  *model.RecurrencePattern `json:"recurrence,omitempty"`
	AutoProcess *bool                    `json:"auto_process,omitempty"`
	Attendees   *[]model.Attendee        `json:"attendees,omitempty"`
	// Status may move between scheduled, confirmed and no_show.
	Status *model.EventStatus `json:"status,omitempty"`

	CheckConflicts bool `json:"check_conflicts,omitempty"`
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (model.ScheduledEvent, error) {
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}

	var verr model.ValidationError
	if in.Title != nil {
		if t := strings.TrimSpace(*in.Title); t == "" {
			verr.Add("title", "must not be empty")
		} else {
			e.Title = t
		}
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Location != nil {
		e.Location = *in.Location
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			verr.Add("type", fmt.Sprintf("unknown event type %q", *in.Type))
		} else {
			e.Type = *in.Type
		}
	}
	if in.HandlerType != nil {
		e.HandlerType = strings.TrimSpace(*in.HandlerType)
	}
	if in.HandlerData != nil {
		e.HandlerData = in.HandlerData
	}
	if in.HandlerType != nil || in.HandlerData != nil {
		if h := s.resolveForValidation(&verr, e.HandlerType); h != nil {
			validateHandlerInput(&verr, h, e.EntityType, e.EntityID, e.HandlerData)
		}
	}
	if in.StartTime != nil {
		e.StartTime = in.StartTime.UTC()
	}
	if in.EndTime != nil {
		e.EndTime = in.EndTime.UTC()
	}
	if in.StartTime != nil || in.EndTime != nil {
		checkTimes(&verr, e.StartTime, e.EndTime)
	}
	if in.Timezone != nil {
		e.Timezone = strings.TrimSpace(*in.Timezone)
	}
	if in.AllDay != nil {
		e.AllDay = *in.AllDay
	}
	if in.IsRecurring != nil {
		e.IsRecurring = *in.IsRecurring
	}
	if in.Recurrence != nil {
		e.Recurrence = in.Recurrence
	}
	if in.IsRecurring != nil || in.Recurrence != nil {
		checkRecurrence(&verr, e.IsRecurring, e.Recurrence)
		if !e.IsRecurring {
			e.Recurrence = nil
		}
	}
	if in.AutoProcess != nil {
		e.AutoProcess = *in.AutoProcess
	}
	if in.Attendees != nil {
		e.Attendees = mergeAttendees(&verr, e.Attendees, *in.Attendees)
	}
	if in.Status != nil {
		switch *in.Status {
		case model.StatusScheduled, model.StatusConfirmed, model.StatusNoShow:
			e.Status = *in.Status
		default:
			verr.Add("status", fmt.Sprintf("cannot set status to %q here", *in.Status))
		}
	}
	if err := verr.Err(); err != nil {
		return model.ScheduledEvent{}, err
	}

	if in.CheckConflicts {
		if err := s.ensureFree(ctx, e.StartTime, e.EndTime, e.OrganizerID, e.ID); err != nil {
			return model.ScheduledEvent{}, err
		}
	}

	s.touch(ctx, &e)
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return model.ScheduledEvent{}, err
	}
	s.log.Debug("event updated", logx.Int64("id", e.ID))
	return e, nil
}

// resolveForValidation records a field error when handlerType does not
// resolve to an enabled handler.
func (s *Service) resolveForValidation(verr *model.ValidationError, handlerType string) handler.Handler {
	if handlerType == "" {
		verr.Add("handler_type", "is required")
		return nil
	}
	h, ok := s.handlers.Get(handlerType)
	if !ok {
		verr.Add("handler_type", fmt.Sprintf("%s: %q", handler.ErrHandlerNotFound, handlerType))
		return nil
	}
	return h
}

// validateHandlerInput runs the optional handler validators.
func validateHandlerInput(verr *model.ValidationError, h handler.Handler, entityType, entityID string, data map[string]any) {
	if dv, ok := h.(handler.DataValidator); ok {
		if err := dv.ValidateHandlerData(data); err != nil {
			verr.Add("handler_data", err.Error())
		}
	}
	if sv, ok := h.(handler.SubjectValidator); ok {
		if err := sv.ValidateSubject(entityType, entityID, data); err != nil {
			verr.Add("entity_id", err.Error())
		}
	}
}

func (s *Service) ensureFree(ctx context.Context, start, end time.Time, organizerID string, excludeID int64) error {
	if s.conflicts == nil {
		return nil
	}
	found, err := s.conflicts.CheckConflicts(ctx, start, end, organizerID, excludeID)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return &ConflictError{Conflicts: found}
	}
	return nil
}

// load fetches an event, deleted or not.
func (s *Service) load(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	e, err := s.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e, err
}

// loadLive fetches an event and rejects soft-deleted ones.
func (s *Service) loadLive(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	if e.Deleted() {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %d", ErrDeleted, id)
	}
	return e, nil
}

func (s *Service) touch(ctx context.Context, e *model.ScheduledEvent) {
	e.UpdatedAt = s.now().UTC()
	e.UpdatedBy = ActorFromContext(ctx).ID
}

func (s *Service) publish(typ string, e model.ScheduledEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
		"id":        e.ID,
		"public_id": e.PublicID,
		"handler":   e.HandlerType,
	}})
}

func checkTimes(verr *model.ValidationError, start, end time.Time) {
	if start.IsZero() {
		verr.Add("start_time", "is required")
	}
	if end.IsZero() {
		verr.Add("end_time", "is required")
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		verr.Add("end_time", "must be after start_time")
	}
}

func checkRecurrence(verr *model.ValidationError, recurring bool, p *model.RecurrencePattern) {
	if !recurring {
		return
	}
	if p == nil {
		verr.Add("recurrence", "is required for recurring events")
		return
	}
	if err := recurrence.Validate(p); err != nil {
		verr.Add("recurrence", err.Error())
	}
}

// normalizeAttendees resets responses to pending and rejects blanks and duplicates.
func normalizeAttendees(verr *model.ValidationError, in []model.Attendee) []model.Attendee {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Attendee, 0, len(in))
	seen := map[string]bool{}
	for i, a := range in {
		a.UserID = strings.TrimSpace(a.UserID)
		if a.UserID == "" {
			verr.Add(fmt.Sprintf("attendees[%d].user_id", i), "is required")
			continue
		}
		if seen[a.UserID] {
			verr.Add(fmt.Sprintf("attendees[%d].user_id", i), "duplicate attendee")
			continue
		}
		seen[a.UserID] = true
		a.Response = model.ResponsePending
		a.ResponseAt = nil
		a.Sent = false
		out = append(out, a)
	}
	return out
}

// mergeAttendees keeps the recorded response of attendees that stay on the
// list and adds newcomers as pending.
func mergeAttendees(verr *model.ValidationError, current, next []model.Attendee) []model.Attendee {
	prev := make(map[string]model.Attendee, len(current))
	for _, a := range current {
		prev[a.UserID] = a
	}
	fresh := normalizeAttendees(verr, next)
	for i, a := range fresh {
		if old, ok := prev[a.UserID]; ok {
			old.Name = a.Name
			old.Email = a.Email
			fresh[i] = old
		}
	}
	return fresh
}

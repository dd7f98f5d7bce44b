package handler

import (
	"context"
	"errors"

	"schedd/internal/eventbus"
	"schedd/internal/model"
	logx "schedd/pkg/logx"
)

var ErrHandlerNotFound = errors.New("handler not found")

// Handler executes the real-world effect of a scheduled event for one
// subject type. ProcessScheduled must re-read the subject's authoritative
// state instead of trusting fields cached on the event.
type Handler interface {
	Type() string
	Name() string
	Description() string
	// AutoProcess is the default for events created without an explicit flag.
	AutoProcess() bool
	ProcessScheduled(ctx context.Context, eventID int64) (bool, error)
}

// EventReader is the read-only event lookup handed to handlers.
type EventReader interface {
	GetEvent(ctx context.Context, id int64) (model.ScheduledEvent, error)
}

type Deps struct {
	Logger logx.Logger
	Events EventReader
	Bus    eventbus.Bus
}

// Initializer is called once when a manifest is applied.
type Initializer interface {
	Init(ctx context.Context, deps Deps) error
}

// DataValidator checks handler_data at creation time.
type DataValidator interface {
	ValidateHandlerData(data map[string]any) error
}

// SubjectValidator checks the entity an event points at, for handlers that
// fall back to entity_id when handler_data does not name a subject.
type SubjectValidator interface {
	ValidateSubject(entityType, entityID string, data map[string]any) error
}

type BeforeProcessor interface {
	BeforeProcess(ctx context.Context, eventID int64) error
}

type AfterProcessor interface {
	AfterProcess(ctx context.Context, eventID int64) error
}

// ErrorHook observes a failed attempt. Its own error is logged and dropped.
type ErrorHook interface {
	OnProcessError(ctx context.Context, eventID int64, cause error) error
}

// EventDataProvider returns a read-only projection for display.
type EventDataProvider interface {
	EventData(ctx context.Context, eventID int64) (map[string]any, error)
}

// Presenter carries display hints. They are passed through untouched.
type Presenter interface {
	Icon() string
	Color() string
}

// Base wires deps and a namespaced logger for concrete handlers.
//
//	type Handler struct { handler.Base }
//	func (h *Handler) Init(ctx context.Context, deps handler.Deps) error { h.InitBase(deps, h.Type()); return nil }
type Base struct {
	Log  logx.Logger
	Deps Deps
	typ  string
}

func (b *Base) InitBase(deps Deps, handlerType string) {
	b.Deps = deps
	b.typ = handlerType
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("handler", handlerType))
}

// Event loads the scheduled event through the read-only lookup.
func (b *Base) Event(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	if b.Deps.Events == nil {
		return model.ScheduledEvent{}, errors.New("event lookup not available")
	}
	return b.Deps.Events.GetEvent(ctx, id)
}

// Publish sends a signal on the bus if one is wired.
func (b *Base) Publish(typ string, data any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

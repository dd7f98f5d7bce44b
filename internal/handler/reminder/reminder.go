// Package reminder signals that a reminder event is due. Delivery is left to
// whoever subscribes to the bus.
package reminder

import (
	"context"
	"errors"
	"fmt"

	"schedd/internal/eventbus"
	"schedd/internal/handler"
	logx "schedd/pkg/logx"
)

const Type = "reminder"

// Due is the payload of eventbus.ReminderDue.
type Due struct {
	EventID   int64    `json:"event_id"`
	PublicID  string   `json:"public_id"`
	Title     string   `json:"title"`
	Message   string   `json:"message,omitempty"`
	Organizer string   `json:"organizer"`
	Attendees []string `json:"attendees,omitempty"`
}

type Handler struct {
	handler.Base
}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() string        { return Type }
func (h *Handler) Name() string        { return "Reminder" }
func (h *Handler) Description() string { return "Publishes a reminder.due signal for the organizer and attendees." }
func (h *Handler) AutoProcess() bool   { return true }
func (h *Handler) Icon() string        { return "bell" }
func (h *Handler) Color() string       { return "#d69e2e" }

func (h *Handler) Init(ctx context.Context, deps handler.Deps) error {
	_ = ctx
	h.InitBase(deps, Type)
	return nil
}

// ValidateHandlerData accepts an optional string message.
func (h *Handler) ValidateHandlerData(data map[string]any) error {
	if raw, ok := data["message"]; ok {
		if _, isStr := raw.(string); !isStr {
			return fmt.Errorf("message: want string, got %T", raw)
		}
	}
	return nil
}

func (h *Handler) BeforeProcess(ctx context.Context, eventID int64) error {
	if h.Deps.Bus == nil {
		return errors.New("event bus not available")
	}
	return nil
}

func (h *Handler) ProcessScheduled(ctx context.Context, eventID int64) (bool, error) {
	ev, err := h.Event(ctx, eventID)
	if err != nil {
		return false, err
	}
	due := Due{
		EventID:   ev.ID,
		PublicID:  ev.PublicID,
		Title:     ev.Title,
		Organizer: ev.OrganizerID,
	}
	if msg, ok := ev.HandlerData["message"].(string); ok {
		due.Message = msg
	}
	for _, a := range ev.Attendees {
		due.Attendees = append(due.Attendees, a.UserID)
	}
	h.Publish(eventbus.ReminderDue, due)
	h.Log.Debug("reminder due", logx.Int64("event", eventID), logx.Int("attendees", len(due.Attendees)))
	return true, nil
}

package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"schedd/internal/model"
	"schedd/internal/recurrence"
	"schedd/internal/scheduling"
)

const maxPreview = 50

// listEvents dispatches on the query: entity_type+entity_id, handler,
// organizer (optional from/to) or a from/to range.
func (a *api) listEvents(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var (
		out []model.ScheduledEvent
		err error
	)
	switch {
	case c.Query("entity_type") != "" || c.Query("entity_id") != "":
		if c.Query("entity_type") == "" || c.Query("entity_id") == "" {
			return fiber.NewError(fiber.StatusBadRequest, "entity_type and entity_id go together")
		}
		out, err = a.Scheduling.ListByEntity(ctx, c.Query("entity_type"), c.Query("entity_id"))
	case c.Query("handler") != "":
		out, err = a.Scheduling.ListByHandler(ctx, c.Query("handler"))
	case c.Query("organizer") != "":
		from, terr := queryTime(c, "from", false)
		if terr != nil {
			return terr
		}
		to, terr := queryTime(c, "to", false)
		if terr != nil {
			return terr
		}
		out, err = a.Scheduling.ListByOrganizer(ctx, c.Query("organizer"), from, to)
	default:
		from, terr := queryTime(c, "from", true)
		if terr != nil {
			return terr
		}
		to, terr := queryTime(c, "to", true)
		if terr != nil {
			return terr
		}
		out, err = a.Scheduling.ListInRange(ctx, from, to)
	}
	if err != nil {
		return err
	}
	return ok(c, nonNil(out))
}

func (a *api) listPending(c *fiber.Ctx) error {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	out, err := a.Scheduling.ListPending(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return ok(c, nonNil(out))
}

func (a *api) listFailed(c *fiber.Ctx) error {
	out, err := a.Scheduling.ListFailed(c.UserContext())
	if err != nil {
		return err
	}
	return ok(c, nonNil(out))
}

func (a *api) createEvent(c *fiber.Ctx) error {
	var in scheduling.CreateInput
	if err := decode(c, &in); err != nil {
		return err
	}
	e, err := a.Scheduling.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return created(c, e)
}

func (a *api) getEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	e, err := a.Scheduling.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) getEventByPublicID(c *fiber.Ctx) error {
	e, err := a.Scheduling.GetByPublicID(c.UserContext(), c.Params("publicID"))
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) updateEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in scheduling.UpdateInput
	if err := decode(c, &in); err != nil {
		return err
	}
	e, err := a.Scheduling.Update(c.UserContext(), id, in)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) deleteEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := a.Scheduling.Delete(c.UserContext(), id); err != nil {
		return err
	}
	return ok(c, fiber.Map{"id": id, "deleted": true})
}

func (a *api) cancelEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decode(c, &in); err != nil {
		return err
	}
	e, err := a.Scheduling.Cancel(c.UserContext(), id, in.Reason)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) completeEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	e, err := a.Scheduling.Complete(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) rescheduleEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in scheduling.RescheduleInput
	if err := decode(c, &in); err != nil {
		return err
	}
	e, err := a.Scheduling.Reschedule(c.UserContext(), id, in)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) rsvpEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in struct {
		Response model.AttendeeResponse `json:"response"`
	}
	if err := decode(c, &in); err != nil {
		return err
	}
	e, err := a.Scheduling.RSVP(c.UserContext(), id, in.Response)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) requeueEvent(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	e, err := a.Scheduling.Requeue(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, e)
}

func (a *api) listChildren(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	out, err := a.Scheduling.ListChildren(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, nonNil(out))
}

func (a *api) eventData(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	data, err := a.Scheduling.EventData(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, data)
}

// upcomingOccurrences previews the next starts of a recurring event
// (?n=, default 5, capped at 50). Non-recurring events return [].
func (a *api) upcomingOccurrences(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	n := 5
	if raw := strings.TrimSpace(c.Query("n")); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fiber.NewError(fiber.StatusBadRequest, "n must be a positive integer")
		}
	}
	n = min(n, maxPreview)
	e, err := a.Scheduling.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	starts := []string{}
	if e.IsRecurring {
		for _, t := range recurrence.Preview(e.StartTime, e.Recurrence, e.OccurrenceIndex, n) {
			starts = append(starts, t.UTC().Format(time.RFC3339))
		}
	}
	return ok(c, fiber.Map{"id": e.ID, "starts": starts})
}

func (a *api) conflicts(c *fiber.Ctx) error {
	start, err := queryTime(c, "start", true)
	if err != nil {
		return err
	}
	end, err := queryTime(c, "end", true)
	if err != nil {
		return err
	}
	var exclude int64
	if raw := strings.TrimSpace(c.Query("exclude")); raw != "" {
		exclude, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "exclude must be an event id")
		}
	}
	out, err := a.Scheduling.Conflicts(c.UserContext(), start, end, c.Query("organizer"), exclude)
	if err != nil {
		return err
	}
	return ok(c, nonNil(out))
}

// nonNil renders empty lists as [] rather than null.
func nonNil(in []model.ScheduledEvent) []model.ScheduledEvent {
	if in == nil {
		return []model.ScheduledEvent{}
	}
	return in
}

package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"schedd/internal/ics"
)

// organizerCalendar serves the organizer's events as text/calendar.
// from/to bound event starts; both are optional.
func (a *api) organizerCalendar(c *fiber.Ctx) error {
	from, err := queryTime(c, "from", false)
	if err != nil {
		return err
	}
	to, err := queryTime(c, "to", false)
	if err != nil {
		return err
	}
	organizer := c.Params("id")
	events, err := a.Scheduling.ListByOrganizer(c.UserContext(), organizer, from, to)
	if err != nil {
		return err
	}
	body := ics.Export(events, ics.Options{
		Name:   organizer,
		Now:    a.Now(),
		Logger: a.log,
	})
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+organizer+`.ics"`)
	return c.SendString(body)
}

package httpapi

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"schedd/internal/model"
	"schedd/internal/scheduling"
)

func (a *api) findSlots(c *fiber.Ctx) error {
	from, err := queryTime(c, "from", true)
	if err != nil {
		return err
	}
	to, err := queryTime(c, "to", true)
	if err != nil {
		return err
	}
	minutes := 0
	if raw := strings.TrimSpace(c.Query("duration")); raw != "" {
		minutes, err = strconv.Atoi(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "duration must be minutes")
		}
	}
	res, err := a.Availability.FindAvailableSlots(c.UserContext(), c.Params("user"), from, to, minutes)
	if err != nil {
		return err
	}
	return ok(c, res)
}

func (a *api) checkAvailability(c *fiber.Ctx) error {
	start, err := queryTime(c, "start", true)
	if err != nil {
		return err
	}
	end, err := queryTime(c, "end", true)
	if err != nil {
		return err
	}
	res, err := a.Availability.CheckAvailability(c.UserContext(), c.Params("user"), start, end)
	if err != nil {
		return err
	}
	return ok(c, res)
}

func (a *api) getPreferences(c *fiber.Ctx) error {
	p, err := a.Availability.GetPreferences(c.UserContext(), c.Params("user"))
	if err != nil {
		return err
	}
	return ok(c, p)
}

func (a *api) savePreferences(c *fiber.Ctx) error {
	var p model.AvailabilityPreferences
	if err := decode(c, &p); err != nil {
		return err
	}
	// the path names the user
	p.UserID = c.Params("user")
	saved, err := a.Availability.SavePreferences(c.UserContext(), p)
	if err != nil {
		return err
	}
	return ok(c, saved)
}

func (a *api) deletePreferences(c *fiber.Ctx) error {
	user := c.Params("user")
	by := scheduling.ActorFromContext(c.UserContext()).ID
	if err := a.Availability.DeletePreferences(c.UserContext(), user, by); err != nil {
		return err
	}
	return ok(c, fiber.Map{"user_id": user, "deleted": true})
}

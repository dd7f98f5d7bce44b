package httpapi

import (
	"github.com/gofiber/fiber/v2"

	logx "schedd/pkg/logx"
)

func (a *api) listHandlers(c *fiber.Ctx) error {
	return ok(c, a.Handlers.Statuses())
}

// toggleHandler flips a handler on or off at runtime. The change lasts until
// the next config reload touches the handlers section.
func (a *api) toggleHandler(c *fiber.Ctx) error {
	var in struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(c, &in); err != nil {
		return err
	}
	if in.Enabled == nil {
		return fiber.NewError(fiber.StatusBadRequest, "enabled is required")
	}
	typ := c.Params("type")
	if err := a.Handlers.SetEnabled(typ, *in.Enabled); err != nil {
		return err
	}
	a.log.Info("handler toggled", logx.String("handler", typ), logx.Bool("enabled", *in.Enabled))
	for _, st := range a.Handlers.Statuses() {
		if st.Type == typ {
			return ok(c, st)
		}
	}
	return ok(c, fiber.Map{"type": typ, "enabled": *in.Enabled})
}

func (a *api) processorSnapshot(c *fiber.Ctx) error {
	if a.Processor == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "processor unavailable")
	}
	return ok(c, a.Processor.Snapshot())
}

// runProcessor triggers a pass and waits for its result. A pass already in
// flight (scheduled or manual) answers 409.
func (a *api) runProcessor(c *fiber.Ctx) error {
	if a.Processor == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "processor unavailable")
	}
	res, err := a.Processor.RunNow(c.UserContext())
	if err != nil {
		return err
	}
	return ok(c, res)
}

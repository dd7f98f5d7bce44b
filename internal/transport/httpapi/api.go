// Package httpapi exposes the scheduling engine as a JSON API on fiber.
//
// Every response is an envelope {status, data, error}. Callers identify
// themselves with X-Actor-ID and X-Actor-Name; the actor is stamped on
// audit fields and checked for RSVP.
package httpapi

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"schedd/internal/availability"
	"schedd/internal/handler"
	"schedd/internal/scheduling"
	"schedd/internal/storage"
	"schedd/internal/task/processor"
	logx "schedd/pkg/logx"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
)

// Processor runs a batch pass on demand and reports diagnostics.
type Processor interface {
	RunNow(ctx context.Context) (processor.Result, error)
	Snapshot() processor.Snapshot
}

type Deps struct {
	Logger       logx.Logger
	Scheduling   *scheduling.Service
	Availability *availability.Engine
	Handlers     *handler.Registry
	Processor    Processor
	Posts        storage.PostStore
	// Status feeds GET /api/status. Optional.
	Status func() any
	Now    func() time.Time
}

type api struct {
	Deps
	log logx.Logger
}

// New builds the fiber app. It does not listen.
func New(cfg Config, d Deps) *fiber.App {
	cfg = cfg.withDefaults()
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	a := &api{Deps: d, log: log.With(logx.String("comp", "http"))}

	app := fiber.New(fiber.Config{
		AppName:               "schedd",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          a.errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e any) {
			a.log.Error("handler panic",
				logx.String("method", c.Method()),
				logx.String("path", c.Path()),
				logx.String("panic", fmt.Sprint(e)),
				logx.Stack(string(debug.Stack())),
			)
		},
	}))
	if len(cfg.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, " + HeaderActorID + ", " + HeaderActorName,
		}))
	}
	if cfg.Pprof {
		app.Use(pprof.New())
	}
	app.Use(a.requestLog)
	app.Use(actorMiddleware)

	a.routes(app.Group("/api"))
	return app
}

func (a *api) routes(r fiber.Router) {
	r.Get("/health", func(c *fiber.Ctx) error { return ok(c, fiber.Map{"time": a.Now().UTC()}) })
	r.Get("/status", a.status)

	ev := r.Group("/events")
	ev.Get("/", a.listEvents)
	ev.Post("/", a.createEvent)
	ev.Get("/pending", a.listPending)
	ev.Get("/failed", a.listFailed)
	ev.Get("/public/:publicID", a.getEventByPublicID)
	ev.Get("/:id", a.getEvent)
	ev.Patch("/:id", a.updateEvent)
	ev.Delete("/:id", a.deleteEvent)
	ev.Post("/:id/cancel", a.cancelEvent)
	ev.Post("/:id/complete", a.completeEvent)
	ev.Post("/:id/reschedule", a.rescheduleEvent)
	ev.Post("/:id/rsvp", a.rsvpEvent)
	ev.Post("/:id/requeue", a.requeueEvent)
	ev.Get("/:id/children", a.listChildren)
	ev.Get("/:id/data", a.eventData)
	ev.Get("/:id/occurrences", a.upcomingOccurrences)

	r.Get("/conflicts", a.conflicts)

	av := r.Group("/availability/:user")
	av.Get("/slots", a.findSlots)
	av.Get("/check", a.checkAvailability)
	av.Get("/preferences", a.getPreferences)
	av.Put("/preferences", a.savePreferences)
	av.Delete("/preferences", a.deletePreferences)

	r.Get("/organizers/:id/calendar.ics", a.organizerCalendar)

	r.Get("/handlers", a.listHandlers)
	r.Put("/handlers/:type", a.toggleHandler)

	r.Get("/processor", a.processorSnapshot)
	r.Post("/processor/run", a.runProcessor)

	r.Get("/posts", a.listPosts)
	r.Post("/posts", a.createPost)
	r.Get("/posts/:id", a.getPost)
}

// actorMiddleware copies the caller identity headers into the request context.
func actorMiddleware(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Get(HeaderActorID))
	if id != "" {
		name := strings.TrimSpace(c.Get(HeaderActorName))
		if name == "" {
			name = id
		}
		c.SetUserContext(scheduling.WithActor(c.UserContext(), scheduling.Actor{ID: id, Name: name}))
	}
	return c.Next()
}

func (a *api) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		// let the error handler set the final status before logging
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}
	if a.log.Enabled(logx.LevelDebug) {
		a.log.Debug("request",
			logx.String("method", c.Method()),
			logx.String("path", c.Path()),
			logx.Int("status", c.Response().StatusCode()),
			logx.Duration("dur", time.Since(start)),
		)
	}
	return nil
}

func (a *api) status(c *fiber.Ctx) error {
	if a.Status == nil {
		return ok(c, fiber.Map{})
	}
	return ok(c, a.Status())
}

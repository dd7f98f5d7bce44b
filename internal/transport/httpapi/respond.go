package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"schedd/internal/handler"
	"schedd/internal/handler/blogpost"
	"schedd/internal/model"
	"schedd/internal/scheduling"
	"schedd/internal/storage"
	"schedd/internal/task/engine"
	logx "schedd/pkg/logx"
)

// envelope is the body of every JSON response.
type envelope struct {
	Status bool              `json:"status"`
	Data   any               `json:"data"`
	Error  string            `json:"error,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(envelope{Status: true, Data: data})
}

func created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(envelope{Status: true, Data: data})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *model.ValidationError
	var ferr *fiber.Error
	switch {
	case errors.As(err, &verr):
		return fiber.StatusBadRequest
	case errors.As(err, &ferr):
		return ferr.Code
	case errors.Is(err, scheduling.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, handler.ErrHandlerNotFound),
		errors.Is(err, blogpost.ErrPostNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, scheduling.ErrNotAttendee):
		return fiber.StatusForbidden
	case errors.Is(err, scheduling.ErrDeleted),
		errors.Is(err, scheduling.ErrInvalidState),
		errors.Is(err, scheduling.ErrConflict),
		errors.Is(err, engine.ErrOverlapSkip):
		return fiber.StatusConflict
	case errors.Is(err, engine.ErrDisabled),
		errors.Is(err, engine.ErrStopped),
		errors.Is(err, engine.ErrStopping),
		errors.Is(err, engine.ErrQueueFull):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// errorHandler is the fiber ErrorHandler: every error returned by a route
// ends up here.
func (a *api) errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	body := envelope{Status: false, Error: err.Error()}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.FieldErrors
	}
	var cerr *scheduling.ConflictError
	if errors.As(err, &cerr) {
		body.Data = fiber.Map{"conflicts": cerr.Conflicts}
	}
	if code >= fiber.StatusInternalServerError {
		a.log.Error("request failed",
			logx.String("method", c.Method()),
			logx.String("path", c.Path()),
			logx.Int("status", code),
			logx.Err(err),
		)
		if code == fiber.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	return c.Status(code).JSON(body)
}

// decode reads a JSON body strictly. An empty body leaves v untouched.
func decode(c *fiber.Ctx, v any) error {
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func paramID(c *fiber.Ctx) (int64, error) {
	raw := c.Params("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// queryTime parses an RFC 3339 query value. Missing values return the zero
// time unless required.
func queryTime(c *fiber.Ctx, key string, required bool) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		if required {
			return time.Time{}, fiber.NewError(fiber.StatusBadRequest, key+" is required")
		}
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s: expected RFC 3339 time, got %q", key, raw))
	}
	return t, nil
}

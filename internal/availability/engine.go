package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedd/internal/model"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

// Availability reasons.
const (
	ReasonConflict            = "conflict"
	ReasonOutsideWorkingHours = "outside_working_hours"
	ReasonWithinWorkingHours  = "within_working_hours"
	ReasonNoPreferences       = "no_preferences"
)

const fallbackDuration = 30 * time.Minute

// SlotsResult is the outcome of FindAvailableSlots.
type SlotsResult struct {
	Slots   []Interval `json:"slots"`
	Message string     `json:"message"`
	Reason  string     `json:"reason,omitempty"`
}

// Result is the outcome of CheckAvailability.
type Result struct {
	Available bool                   `json:"available"`
	Reason    string                 `json:"reason"`
	Conflicts []model.ScheduledEvent `json:"conflicts,omitempty"`
}

type Engine struct {
	events storage.EventStore
	prefs  storage.PreferencesStore
	log    logx.Logger
	now    func() time.Time
}

func New(events storage.EventStore, prefs storage.PreferencesStore, log logx.Logger, now func() time.Time) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		events: events,
		prefs:  prefs,
		log:    log.With(logx.String("comp", "availability")),
		now:    now,
	}
}

// CheckConflicts returns the organizer's active events overlapping [start, end).
// excludeID skips one event, typically the one being edited.
func (e *Engine) CheckConflicts(ctx context.Context, start, end time.Time, organizerID string, excludeID int64) ([]model.ScheduledEvent, error) {
	organizerID = strings.TrimSpace(organizerID)
	if organizerID == "" {
		return nil, nil
	}
	rows, err := e.events.ListEvents(ctx, storage.EventFilter{
		OrganizerID: organizerID,
		ActiveOnly:  true,
		StartTo:     end,
		EndAfter:    start,
		ExcludeID:   excludeID,
	})
	if err != nil {
		return nil, err
	}
	cand := Interval{Start: start, End: end}
	out := make([]model.ScheduledEvent, 0, len(rows))
	for _, ev := range rows {
		if Overlaps(cand, eventInterval(ev)) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// FindAvailableSlots lists free slots for userID between rangeStart and
// rangeEnd. durationMinutes <= 0 uses the user's default duration.
func (e *Engine) FindAvailableSlots(ctx context.Context, userID string, rangeStart, rangeEnd time.Time, durationMinutes int) (SlotsResult, error) {
	var verr model.ValidationError
	if strings.TrimSpace(userID) == "" {
		verr.Add("user_id", "is required")
	}
	if !rangeStart.Before(rangeEnd) {
		verr.Add("range", "start must be before end")
	}
	if err := verr.Err(); err != nil {
		return SlotsResult{}, err
	}

	prefs, err := e.prefs.GetPreferences(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return SlotsResult{
			Slots:   []Interval{},
			Message: "no availability preferences set for user",
			Reason:  ReasonNoPreferences,
		}, nil
	}
	if err != nil {
		return SlotsResult{}, err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	if duration <= 0 {
		duration = time.Duration(prefs.DefaultEventDuration) * time.Minute
	}
	if duration <= 0 {
		duration = fallbackDuration
	}
	step := duration
	if !prefs.AllowBackToBack && prefs.BufferTime > 0 {
		step += time.Duration(prefs.BufferTime) * time.Minute
	}

	busyRows, err := e.events.ListEvents(ctx, storage.EventFilter{
		Participant: userID,
		ActiveOnly:  true,
		StartTo:     rangeEnd,
		EndAfter:    rangeStart,
	})
	if err != nil {
		return SlotsResult{}, err
	}
	busy := make([]Interval, 0, len(busyRows))
	for _, ev := range busyRows {
		busy = append(busy, eventInterval(ev))
	}

	loc := Location(prefs)
	slots := make([]Interval, 0)
	first := rangeStart.In(loc)
	y, m, d := first.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); day.Before(rangeEnd); day = day.AddDate(0, 0, 1) {
		wh, ok := prefs.Day(day.Weekday())
		if !ok || !wh.IsAvailable {
			continue
		}
		window, err := Window(wh, day)
		if err != nil {
			e.log.Warn("skipping malformed working hours",
				logx.String("user", userID), logx.Int("day", wh.DayOfWeek), logx.Err(err))
			continue
		}
		for _, s := range Slots(window, duration, step, busy) {
			if s.Start.Before(rangeStart) || s.End.After(rangeEnd) {
				continue
			}
			slots = append(slots, s)
		}
	}

	return SlotsResult{
		Slots:   slots,
		Message: fmt.Sprintf("found %d available slot(s)", len(slots)),
	}, nil
}

// CheckAvailability reports whether userID can take [start, end).
func (e *Engine) CheckAvailability(ctx context.Context, userID string, start, end time.Time) (Result, error) {
	if !start.Before(end) {
		var verr model.ValidationError
		verr.Add("end_time", "must be after start_time")
		return Result{}, verr.Err()
	}
	conflicts, err := e.CheckConflicts(ctx, start, end, userID, 0)
	if err != nil {
		return Result{}, err
	}
	if len(conflicts) > 0 {
		return Result{Available: false, Reason: ReasonConflict, Conflicts: conflicts}, nil
	}

	prefs, err := e.prefs.GetPreferences(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Available: true, Reason: ReasonNoPreferences}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !WithinWorkingHours(prefs, start, end, Location(prefs)) {
		return Result{Available: false, Reason: ReasonOutsideWorkingHours}, nil
	}
	return Result{Available: true, Reason: ReasonWithinWorkingHours}, nil
}

package availability

import (
	"context"
	"fmt"
	"strings"

	"schedd/internal/model"
	logx "schedd/pkg/logx"
)

func (e *Engine) GetPreferences(ctx context.Context, userID string) (model.AvailabilityPreferences, error) {
	return e.prefs.GetPreferences(ctx, strings.TrimSpace(userID))
}

// SavePreferences validates p and stores it as the user's active record.
func (e *Engine) SavePreferences(ctx context.Context, p model.AvailabilityPreferences) (model.AvailabilityPreferences, error) {
	p.UserID = strings.TrimSpace(p.UserID)
	p.Timezone = strings.TrimSpace(p.Timezone)
	if err := ValidatePreferences(p); err != nil {
		return model.AvailabilityPreferences{}, err
	}
	now := e.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	saved, err := e.prefs.SavePreferences(ctx, p)
	if err != nil {
		return model.AvailabilityPreferences{}, err
	}
	e.log.Debug("preferences saved", logx.String("user", saved.UserID))
	return saved, nil
}

// DeletePreferences soft-deletes the user's active record.
func (e *Engine) DeletePreferences(ctx context.Context, userID, by string) error {
	return e.prefs.DeletePreferences(ctx, strings.TrimSpace(userID), by, e.now().UTC())
}

// ValidatePreferences checks days, clocks and minute counts.
func ValidatePreferences(p model.AvailabilityPreferences) error {
	var verr model.ValidationError
	if p.UserID == "" {
		verr.Add("user_id", "is required")
	}
	if p.BufferTime < 0 {
		verr.Add("buffer_time", "must not be negative")
	}
	if p.DefaultEventDuration < 0 {
		verr.Add("default_event_duration", "must not be negative")
	}
	seen := map[int]bool{}
	for i, wh := range p.WorkingHours {
		field := fmt.Sprintf("working_hours[%d]", i)
		if wh.DayOfWeek < 0 || wh.DayOfWeek > 6 {
			verr.Add(field+".day_of_week", "must be between 0 and 6")
			continue
		}
		if seen[wh.DayOfWeek] {
			verr.Add(field+".day_of_week", "duplicate day")
		}
		seen[wh.DayOfWeek] = true
		from, err := ParseClock(wh.Start)
		if err != nil {
			verr.Add(field+".start", err.Error())
			continue
		}
		to, err := ParseClock(wh.End)
		if err != nil {
			verr.Add(field+".end", err.Error())
			continue
		}
		if from >= to {
			verr.Add(field, "start must be before end")
		}
	}
	return verr.Err()
}

package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"schedd/internal/model"
)

var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RRule renders p as an RFC 5545 RRULE value (without the "RRULE:" prefix).
//
// BYDAY is emitted only for weekly patterns, from DaysOfWeek.
func RRule(start time.Time, p *model.RecurrencePattern) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil pattern", ErrInvalidPattern)
	}
	if err := Validate(p); err != nil {
		return "", err
	}

	opt := rrule.ROption{
		Dtstart:  start,
		Interval: p.Interval,
		Count:    p.MaxOccurrences,
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	switch p.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range p.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, weekdays[d])
		}
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
	case model.FrequencyYearly:
		opt.Freq = rrule.YEARLY
	}
	if p.EndDate != nil {
		opt.Until = p.EndDate.UTC()
	}

	// NewRRule rejects option combinations the library cannot expand.
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return opt.RRuleString(), nil
}

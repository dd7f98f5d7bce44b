// Package recurrence computes the next start of a fixed frequency + interval series.
//
// Monthly and yearly steps use calendar arithmetic (time.AddDate). A target day
// that does not exist in the destination month rolls forward into the following
// month, so Jan 31 + 1 month is Mar 3 (Mar 2 in a leap year).
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"schedd/internal/model"
)

var ErrInvalidPattern = errors.New("invalid recurrence pattern")

// NextOccurrence returns the start following start under p.
//
// ok is false when p is nil, the frequency is unknown, or the computed start is
// after p.EndDate. MaxOccurrences is not considered here; see Exhausted.
func NextOccurrence(start time.Time, p *model.RecurrencePattern) (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	n := p.Interval
	if n < 1 {
		n = 1
	}

	var next time.Time
	switch p.Frequency {
	case model.FrequencyDaily:
		next = start.AddDate(0, 0, n)
	case model.FrequencyWeekly:
		next = start.AddDate(0, 0, 7*n)
	case model.FrequencyMonthly:
		next = start.AddDate(0, n, 0)
	case model.FrequencyYearly:
		next = start.AddDate(n, 0, 0)
	default:
		return time.Time{}, false
	}

	if p.EndDate != nil && next.After(*p.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// Exhausted reports whether an occurrence at index (1-based) is the last one
// allowed by p.MaxOccurrences.
func Exhausted(p *model.RecurrencePattern, index int) bool {
	if p == nil || p.MaxOccurrences <= 0 {
		return false
	}
	if index < 1 {
		index = 1
	}
	return index >= p.MaxOccurrences
}

// Validate checks the shape of p. A nil pattern is valid.
func Validate(p *model.RecurrencePattern) error {
	if p == nil {
		return nil
	}
	var problems []string
	if !p.Frequency.Valid() {
		problems = append(problems, fmt.Sprintf("unknown frequency %q", p.Frequency))
	}
	if p.Interval < 0 {
		problems = append(problems, "interval must be >= 0")
	}
	if p.MaxOccurrences < 0 {
		problems = append(problems, "max_occurrences must be >= 0")
	}
	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			problems = append(problems, fmt.Sprintf("day of week %d out of range 0-6", d))
			break
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPattern, strings.Join(problems, "; "))
	}
	return nil
}

// Preview lists up to n upcoming starts after start, honoring EndDate and
// MaxOccurrences as if start were occurrence index.
func Preview(start time.Time, p *model.RecurrencePattern, index, n int) []time.Time {
	if p == nil || n <= 0 {
		return nil
	}
	if index < 1 {
		index = 1
	}
	out := make([]time.Time, 0, n)
	cur := start
	for len(out) < n {
		if Exhausted(p, index) {
			break
		}
		next, ok := NextOccurrence(cur, p)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
		index++
	}
	return out
}

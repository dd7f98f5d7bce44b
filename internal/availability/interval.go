package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedd/internal/model"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether a and b intersect. Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	// a starts inside b
	if !a.Start.Before(b.Start) && a.Start.Before(b.End) {
		return true
	}
	// a ends inside b
	if a.End.After(b.Start) && !a.End.After(b.End) {
		return true
	}
	// a covers b
	return !a.Start.After(b.Start) && !a.End.Before(b.End)
}

// OverlapDuration is the length of the intersection of a and b, or 0.
func OverlapDuration(a, b Interval) time.Duration {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}

func eventInterval(e model.ScheduledEvent) Interval {
	return Interval{Start: e.StartTime, End: e.EndTime}
}

// ParseClock parses "HH:mm" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock %q (want HH:mm)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Window returns the working-hours interval of wh on the calendar day of
// day, in day's location.
func Window(wh model.WorkingHours, day time.Time) (Interval, error) {
	from, err := ParseClock(wh.Start)
	if err != nil {
		return Interval{}, err
	}
	to, err := ParseClock(wh.End)
	if err != nil {
		return Interval{}, err
	}
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return Interval{
		Start: midnight.Add(time.Duration(from) * time.Minute),
		End:   midnight.Add(time.Duration(to) * time.Minute),
	}, nil
}

// Slots generates free slots of the given duration inside window, advancing
// by step and dropping any candidate that overlaps busy.
func Slots(window Interval, duration, step time.Duration, busy []Interval) []Interval {
	out := make([]Interval, 0)
	if duration <= 0 || step <= 0 {
		return out
	}
	for s := window.Start; !s.Add(duration).After(window.End); s = s.Add(step) {
		slot := Interval{Start: s, End: s.Add(duration)}
		free := true
		for _, b := range busy {
			if Overlaps(slot, b) {
				free = false
				break
			}
		}
		if free {
			out = append(out, slot)
		}
	}
	return out
}

// WithinWorkingHours reports whether [start, end) lies inside the working
// window of start's weekday in loc.
func WithinWorkingHours(p model.AvailabilityPreferences, start, end time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)
	wh, ok := p.Day(local.Weekday())
	if !ok || !wh.IsAvailable {
		return false
	}
	w, err := Window(wh, local)
	if err != nil {
		return false
	}
	return !start.Before(w.Start) && !end.After(w.End)
}

// Location resolves the preferences timezone, falling back to UTC.
func Location(p model.AvailabilityPreferences) *time.Location {
	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

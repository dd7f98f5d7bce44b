package recurrence

import (
	"errors"
	"strings"
	"testing"
	"time"

	"schedd/internal/model"
)

func TestNextOccurrenceAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		freq model.Frequency
		want time.Time
	}{
		{freq: model.FrequencyDaily, want: time.Date(2026, 1, 16, 9, 30, 0, 0, time.UTC)},
		{freq: model.FrequencyWeekly, want: time.Date(2026, 1, 22, 9, 30, 0, 0, time.UTC)},
		{freq: model.FrequencyMonthly, want: time.Date(2026, 2, 15, 9, 30, 0, 0, time.UTC)},
		{freq: model.FrequencyYearly, want: time.Date(2027, 1, 15, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.freq), func(t *testing.T) {
			got, ok := NextOccurrence(start, &model.RecurrencePattern{Frequency: tt.freq, Interval: 1})
			if !ok {
				t.Fatal("expected next occurrence")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", got, tt.want)
			}
			if !got.After(start) {
				t.Fatalf("next %v does not advance past %v", got, start)
			}
		})
	}
}

func TestNextOccurrenceInterval(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := NextOccurrence(start, &model.RecurrencePattern{Frequency: model.FrequencyWeekly, Interval: 2, DaysOfWeek: []int{1, 3}})
	if !ok || !got.Equal(start.AddDate(0, 0, 14)) {
		t.Fatalf("weekly interval 2 = %v, %v", got, ok)
	}

	got, ok = NextOccurrence(start, &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 0})
	if !ok || !got.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("interval 0 should behave like 1, got %v", got)
	}
}

func TestNextOccurrenceMonthOverflow(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	got, ok := NextOccurrence(start, &model.RecurrencePattern{Frequency: model.FrequencyMonthly, Interval: 1})
	if !ok {
		t.Fatal("expected next occurrence")
	}
	want := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Jan 31 + 1 month = %v, want %v", got, want)
	}
}

func TestNextOccurrenceEndDate(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	p := &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1, EndDate: &end}
	if _, ok := NextOccurrence(start, p); !ok {
		t.Fatal("next equal to end date should be allowed")
	}

	end = start.Add(23 * time.Hour)
	if _, ok := NextOccurrence(start, p); ok {
		t.Fatal("expected none once past end date")
	}
}

func TestNextOccurrenceUnknown(t *testing.T) {
	t.Parallel()
	if _, ok := NextOccurrence(time.Now(), nil); ok {
		t.Fatal("nil pattern should have no next occurrence")
	}
	if _, ok := NextOccurrence(time.Now(), &model.RecurrencePattern{Frequency: "hourly"}); ok {
		t.Fatal("unknown frequency should have no next occurrence")
	}
}

func TestExhaustedAndPreview(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := &model.RecurrencePattern{Frequency: model.FrequencyDaily, Interval: 1, MaxOccurrences: 3}

	if Exhausted(p, 2) {
		t.Fatal("index 2 of 3 should not be exhausted")
	}
	if !Exhausted(p, 3) {
		t.Fatal("index 3 of 3 should be exhausted")
	}

	got := Preview(start, p, 1, 10)
	if len(got) != 2 {
		t.Fatalf("preview len = %d, want 2 (%v)", len(got), got)
	}
	if !got[1].Equal(start.AddDate(0, 0, 2)) {
		t.Fatalf("preview[1] = %v", got[1])
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(nil); err != nil {
		t.Fatalf("nil pattern: %v", err)
	}
	bad := []*model.RecurrencePattern{
		{Frequency: "fortnightly"},
		{Frequency: model.FrequencyDaily, Interval: -1},
		{Frequency: model.FrequencyDaily, MaxOccurrences: -2},
		{Frequency: model.FrequencyWeekly, DaysOfWeek: []int{7}},
	}
	for i, p := range bad {
		if err := Validate(p); !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("case %d: err = %v, want ErrInvalidPattern", i, err)
		}
	}
}

func TestRRule(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s, err := RRule(start, &model.RecurrencePattern{Frequency: model.FrequencyWeekly, Interval: 2, DaysOfWeek: []int{1, 3}, MaxOccurrences: 5})
	if err != nil {
		t.Fatalf("RRule: %v", err)
	}
	for _, part := range []string{"FREQ=WEEKLY", "INTERVAL=2", "COUNT=5", "BYDAY=MO,WE"} {
		if !strings.Contains(s, part) {
			t.Fatalf("rrule %q missing %q", s, part)
		}
	}

	if _, err := RRule(start, &model.RecurrencePattern{Frequency: "never"}); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}

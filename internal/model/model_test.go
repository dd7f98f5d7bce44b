package model

import (
	"testing"
	"time"
)

func TestDueForProcessing(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	base := ScheduledEvent{
		StartTime:        now.Add(-time.Hour),
		EndTime:          now,
		AutoProcess:      true,
		ProcessingStatus: ProcessingPending,
		Status:           StatusScheduled,
	}

	tests := []struct {
		name string
		mut  func(e *ScheduledEvent)
		want bool
	}{
		{name: "eligible", mut: func(e *ScheduledEvent) {}, want: true},
		{name: "start equals now", mut: func(e *ScheduledEvent) { e.StartTime = now }, want: true},
		{name: "future start", mut: func(e *ScheduledEvent) { e.StartTime = later }, want: false},
		{name: "manual", mut: func(e *ScheduledEvent) { e.AutoProcess = false }, want: false},
		{name: "processing", mut: func(e *ScheduledEvent) { e.ProcessingStatus = ProcessingProcessing }, want: false},
		{name: "confirmed", mut: func(e *ScheduledEvent) { e.Status = StatusConfirmed }, want: false},
		{name: "deleted", mut: func(e *ScheduledEvent) { e.DeletedAt = &now }, want: false},
		{name: "retry not yet due", mut: func(e *ScheduledEvent) { e.NextAttemptAt = &later }, want: false},
		{name: "retry due", mut: func(e *ScheduledEvent) { e.NextAttemptAt = &now }, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base.Clone()
			tt.mut(&ev)
			if got := ev.DueForProcessing(now); got != tt.want {
				t.Fatalf("DueForProcessing = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpawnOccurrenceStartsFresh(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	parent := ScheduledEvent{
		ID:                   7,
		PublicID:             "parent",
		Title:                "Standup",
		EntityType:           "team",
		EntityID:             "42",
		Type:                 TypeMeeting,
		HandlerType:          "reminder",
		HandlerData:          map[string]any{"channel": "ops"},
		StartTime:            start,
		EndTime:              end,
		IsRecurring:          true,
		Recurrence:           &RecurrencePattern{Frequency: FrequencyDaily, Interval: 1},
		OccurrenceIndex:      3,
		ProcessingStatus:     ProcessingCompleted,
		AutoProcess:          true,
		ProcessingError:      "old failure",
		ProcessingRetryCount: 2,
		ProcessedAt:          &now,
		Status:               StatusCompleted,
		OrganizerID:          "u1",
		Attendees:            []Attendee{{UserID: "u2", Response: ResponseAccepted, ResponseAt: &now, Sent: true}},
		CompletedAt:          &now,
	}

	next := start.AddDate(0, 0, 1)
	child := SpawnOccurrence(parent, next, "child", now)

	if child.ID != 0 || child.PublicID != "child" {
		t.Fatalf("identity not fresh: id=%d public=%q", child.ID, child.PublicID)
	}
	if child.ParentEventID != 7 || child.OccurrenceIndex != 4 {
		t.Fatalf("lineage = parent %d index %d", child.ParentEventID, child.OccurrenceIndex)
	}
	if child.Duration() != parent.Duration() {
		t.Fatalf("duration = %v, want %v", child.Duration(), parent.Duration())
	}
	if child.ProcessingStatus != ProcessingPending || child.Status != StatusScheduled {
		t.Fatalf("state = %s/%s", child.ProcessingStatus, child.Status)
	}
	if child.ProcessingError != "" || child.ProcessingRetryCount != 0 || child.ProcessedAt != nil || child.CompletedAt != nil {
		t.Fatalf("processing bookkeeping carried over: %+v", child)
	}
	if len(child.Attendees) != 1 || child.Attendees[0].Response != ResponsePending || child.Attendees[0].Sent {
		t.Fatalf("attendees not reset: %+v", child.Attendees)
	}

	child.HandlerData["channel"] = "changed"
	child.Recurrence.Interval = 5
	if parent.HandlerData["channel"] != "ops" || parent.Recurrence.Interval != 1 {
		t.Fatal("child shares mutable state with parent")
	}
}

func TestPreferencesDay(t *testing.T) {
	p := AvailabilityPreferences{WorkingHours: []WorkingHours{
		{DayOfWeek: 1, Start: "09:00", End: "17:00", IsAvailable: true},
	}}
	if _, ok := p.Day(time.Monday); !ok {
		t.Fatal("expected monday entry")
	}
	if _, ok := p.Day(time.Sunday); ok {
		t.Fatal("unexpected sunday entry")
	}
}

package model

import (
	"strings"
	"time"
)

// EventType classifies what a scheduled event represents to people.
type EventType string

const (
	TypeMeeting     EventType = "meeting"
	TypeAppointment EventType = "appointment"
	TypeEvent       EventType = "event"
	TypeTask        EventType = "task"
	TypeReminder    EventType = "reminder"
	TypeBlock       EventType = "block"
	TypeOther       EventType = "other"
)

func (t EventType) Valid() bool {
	switch t {
	case TypeMeeting, TypeAppointment, TypeEvent, TypeTask, TypeReminder, TypeBlock, TypeOther:
		return true
	}
	return false
}

// ProcessingStatus is the system-facing execution lifecycle.
//
// Transitions:
//
//	pending    -> processing (batch claim)
//	processing -> completed | pending (retry) | failed (retries exhausted)
//	pending    -> completed | failed (manual complete)
//	failed     -> pending (requeue)
//	any non-terminal -> cancelled
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingCancelled  ProcessingStatus = "cancelled"
)

func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingProcessing, ProcessingCompleted, ProcessingFailed, ProcessingCancelled:
		return true
	}
	return false
}

// EventStatus is the user-facing lifecycle, independent of ProcessingStatus.
//
// Transitions:
//
//	scheduled <-> confirmed
//	scheduled | confirmed -> cancelled | completed | no_show
type EventStatus string

const (
	StatusScheduled EventStatus = "scheduled"
	StatusConfirmed EventStatus = "confirmed"
	StatusCancelled EventStatus = "cancelled"
	StatusCompleted EventStatus = "completed"
	StatusNoShow    EventStatus = "no_show"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Active reports whether the status still blocks time on a calendar.
func (s EventStatus) Active() bool {
	return s != StatusCancelled && s != StatusCompleted
}

type AttendeeResponse string

const (
	ResponsePending   AttendeeResponse = "pending"
	ResponseAccepted  AttendeeResponse = "accepted"
	ResponseDeclined  AttendeeResponse = "declined"
	ResponseTentative AttendeeResponse = "tentative"
)

func (r AttendeeResponse) Valid() bool {
	switch r {
	case ResponsePending, ResponseAccepted, ResponseDeclined, ResponseTentative:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// RecurrencePattern describes a fixed frequency + interval recurrence.
//
// DaysOfWeek is informational: it is rendered into exported calendars but
// next-occurrence computation only advances by 7*Interval days for weekly.
type RecurrencePattern struct {
	Frequency      Frequency  `json:"frequency"`
	Interval       int        `json:"interval"`
	DaysOfWeek     []int      `json:"days_of_week,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"`
}

type Attendee struct {
	UserID     string           `json:"user_id"`
	Name       string           `json:"name,omitempty"`
	Email      string           `json:"email,omitempty"`
	Response   AttendeeResponse `json:"response"`
	ResponseAt *time.Time       `json:"response_at,omitempty"`
	Sent       bool             `json:"sent"`
}

// RescheduleRecord archives an interval an event occupied before a reschedule.
type RescheduleRecord struct {
	PreviousStart time.Time `json:"previous_start"`
	PreviousEnd   time.Time `json:"previous_end"`
	NewStart      time.Time `json:"new_start"`
	NewEnd        time.Time `json:"new_end"`
	Reason        string    `json:"reason,omitempty"`
	RescheduledBy string    `json:"rescheduled_by,omitempty"`
	RescheduledAt time.Time `json:"rescheduled_at"`
}

// ScheduledEvent is a subject entity's time-based action tracked by the engine.
type ScheduledEvent struct {
	ID       int64  `json:"id"`
	PublicID string `json:"public_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	Type        EventType      `json:"type"`
	HandlerType string         `json:"handler_type"`
	HandlerData map[string]any `json:"handler_data,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Timezone  string    `json:"timezone,omitempty"`
	AllDay    bool      `json:"all_day"`

	IsRecurring     bool               `json:"is_recurring"`
	Recurrence      *RecurrencePattern `json:"recurrence,omitempty"`
	ParentEventID   int64              `json:"parent_event_id,omitempty"`
	OccurrenceIndex int                `json:"occurrence_index"`

	ProcessingStatus     ProcessingStatus `json:"processing_status"`
	AutoProcess          bool             `json:"auto_process"`
	ProcessingError      string           `json:"processing_error,omitempty"`
	ProcessingRetryCount int              `json:"processing_retry_count"`
	NextAttemptAt        *time.Time       `json:"next_attempt_at,omitempty"`
	ProcessedAt          *time.Time       `json:"processed_at,omitempty"`

	Status EventStatus `json:"status"`

	OrganizerID string     `json:"organizer_id"`
	Attendees   []Attendee `json:"attendees,omitempty"`

	RescheduleHistory []RescheduleRecord `json:"reschedule_history,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CompletedBy        string     `json:"completed_by,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy string     `json:"updated_by,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

func (e ScheduledEvent) Deleted() bool { return e.DeletedAt != nil }

func (e ScheduledEvent) Duration() time.Duration { return e.EndTime.Sub(e.StartTime) }

// DueForProcessing reports whether the batch processor may pick the event up at now.
func (e ScheduledEvent) DueForProcessing(now time.Time) bool {
	if e.Deleted() || !e.AutoProcess {
		return false
	}
	if e.ProcessingStatus != ProcessingPending || e.Status != StatusScheduled {
		return false
	}
	if e.StartTime.After(now) {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

// Attendee returns the index of userID in Attendees, or -1.
func (e ScheduledEvent) Attendee(userID string) int {
	userID = strings.TrimSpace(userID)
	for i, a := range e.Attendees {
		if a.UserID == userID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate slices and pointers freely.
func (e ScheduledEvent) Clone() ScheduledEvent {
	cp := e
	cp.HandlerData = cloneMap(e.HandlerData)
	if e.Recurrence != nil {
		r := *e.Recurrence
		r.DaysOfWeek = append([]int(nil), e.Recurrence.DaysOfWeek...)
		r.EndDate = cloneTime(e.Recurrence.EndDate)
		cp.Recurrence = &r
	}
	if e.Attendees != nil {
		cp.Attendees = make([]Attendee, len(e.Attendees))
		for i, a := range e.Attendees {
			a.ResponseAt = cloneTime(a.ResponseAt)
			cp.Attendees[i] = a
		}
	}
	cp.RescheduleHistory = append([]RescheduleRecord(nil), e.RescheduleHistory...)
	cp.NextAttemptAt = cloneTime(e.NextAttemptAt)
	cp.ProcessedAt = cloneTime(e.ProcessedAt)
	cp.CancelledAt = cloneTime(e.CancelledAt)
	cp.CompletedAt = cloneTime(e.CompletedAt)
	cp.DeletedAt = cloneTime(e.DeletedAt)
	return cp
}

// WorkingHours is one weekday entry of a user's availability preferences.
// Start and End use "HH:mm" in the preferences timezone.
type WorkingHours struct {
	DayOfWeek   int    `json:"day_of_week"`
	Start       string `json:"start"`
	End         string `json:"end"`
	IsAvailable bool   `json:"is_available"`
}

// AvailabilityPreferences holds a user's working hours and booking rules.
// BufferTime and DefaultEventDuration are minutes.
type AvailabilityPreferences struct {
	ID                   int64          `json:"id"`
	UserID               string         `json:"user_id"`
	Timezone             string         `json:"timezone,omitempty"`
	WorkingHours         []WorkingHours `json:"working_hours"`
	BufferTime           int            `json:"buffer_time"`
	AllowBackToBack      bool           `json:"allow_back_to_back"`
	DefaultEventDuration int            `json:"default_event_duration"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

// Day returns the working-hours entry for weekday, if any.
func (p AvailabilityPreferences) Day(weekday time.Weekday) (WorkingHours, bool) {
	for _, wh := range p.WorkingHours {
		if wh.DayOfWeek == int(weekday) {
			return wh, true
		}
	}
	return WorkingHours{}, false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

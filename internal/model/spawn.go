package model

import "time"

// SpawnOccurrence builds the next instance of a recurring series from parent.
//
// Only series-level fields are carried over. Identity, processing outcome,
// retry bookkeeping, lifecycle stamps and RSVP responses start fresh; the
// child keeps the parent's duration and links back via ParentEventID.
func SpawnOccurrence(parent ScheduledEvent, start time.Time, publicID string, now time.Time) ScheduledEvent {
	child := ScheduledEvent{
		PublicID: publicID,

		Title:       parent.Title,
		Description: parent.Description,
		Location:    parent.Location,

		EntityType: parent.EntityType,
		EntityID:   parent.EntityID,

		Type:        parent.Type,
		HandlerType: parent.HandlerType,
		HandlerData: cloneMap(parent.HandlerData),

		StartTime: start,
		EndTime:   start.Add(parent.Duration()),
		Timezone:  parent.Timezone,
		AllDay:    parent.AllDay,

		IsRecurring:     parent.IsRecurring,
		ParentEventID:   parent.ID,
		OccurrenceIndex: parent.OccurrenceIndex + 1,

		ProcessingStatus: ProcessingPending,
		AutoProcess:      parent.AutoProcess,
		Status:           StatusScheduled,

		OrganizerID: parent.OrganizerID,

		CreatedAt: now,
		CreatedBy: parent.CreatedBy,
		UpdatedAt: now,
	}
	if child.OccurrenceIndex < 2 {
		child.OccurrenceIndex = 2
	}
	if parent.Recurrence != nil {
		r := *parent.Recurrence
		r.DaysOfWeek = append([]int(nil), parent.Recurrence.DaysOfWeek...)
		r.EndDate = cloneTime(parent.Recurrence.EndDate)
		child.Recurrence = &r
	}
	if len(parent.Attendees) > 0 {
		child.Attendees = make([]Attendee, 0, len(parent.Attendees))
		for _, a := range parent.Attendees {
			child.Attendees = append(child.Attendees, Attendee{
				UserID:   a.UserID,
				Name:     a.Name,
				Email:    a.Email,
				Response: ResponsePending,
			})
		}
	}
	return child
}

// Package ics renders scheduled events as an iCalendar (RFC 5545) feed.
//
// A recurring series is stored as a chain of materialized rows, each child
// pointing at the previous occurrence. The feed emits the chain root with an
// RRULE and every later row as an override of the root (same UID plus
// RECURRENCE-ID), so clients show each concrete occurrence once.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedd/internal/model"
	"schedd/internal/recurrence"
	logx "schedd/pkg/logx"
)

const (
	DefaultProductID = "-//schedd//scheduled events//EN"
	DefaultDomain    = "schedd.local"
)

type Options struct {
	ProductID string
	Name      string
	// Domain qualifies UIDs as <public_id>@<domain>.
	Domain string
	Now    time.Time
	Logger logx.Logger
}

// Export renders events into a calendar. Deleted rows are skipped.
func Export(events []model.ScheduledEvent, opt Options) string {
	if opt.ProductID == "" {
		opt.ProductID = DefaultProductID
	}
	if opt.Domain == "" {
		opt.Domain = DefaultDomain
	}
	if opt.Now.IsZero() {
		opt.Now = time.Now()
	}
	log := opt.Logger
	if log.IsZero() {
		log = logx.Nop()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opt.ProductID)
	if opt.Name != "" {
		cal.SetXWRCalName(opt.Name)
	}

	byID := make(map[int64]*model.ScheduledEvent, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
	}

	for i := range events {
		e := &events[i]
		if e.Deleted() {
			continue
		}
		root := seriesRoot(e, byID)
		uid := e.PublicID + "@" + opt.Domain
		if root != e {
			uid = root.PublicID + "@" + opt.Domain
		}

		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(opt.Now.UTC())
		ve.SetCreatedTime(e.CreatedAt.UTC())
		ve.SetModifiedAt(e.UpdatedAt.UTC())
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if e.AllDay {
			ve.SetAllDayStartAt(e.StartTime)
			ve.SetAllDayEndAt(e.EndTime)
		} else {
			ve.SetStartAt(e.StartTime.UTC())
			ve.SetEndAt(e.EndTime.UTC())
		}
		ve.SetStatus(objectStatus(e.Status))
		if e.OrganizerID != "" {
			ve.SetOrganizer(calAddress(e.OrganizerID, ""))
		}
		for _, a := range e.Attendees {
			params := []ical.PropertyParameter{partStat(a.Response)}
			if a.Name != "" {
				params = append(params, ical.WithCN(a.Name))
			}
			ve.AddAttendee(calAddress(a.UserID, a.Email), params...)
		}

		if root != e {
			ve.SetProperty(ical.ComponentProperty("RECURRENCE-ID"), e.StartTime.UTC().Format("20060102T150405Z"))
			continue
		}
		if e.IsRecurring && e.Recurrence != nil {
			rule, err := recurrence.RRule(e.StartTime.UTC(), e.Recurrence)
			if err != nil {
				log.Warn("skipping rrule", logx.Int64("event", e.ID), logx.Err(err))
				continue
			}
			ve.AddRrule(rule)
		}
	}
	return cal.Serialize()
}

// seriesRoot walks ParentEventID links inside the exported set. Rows whose
// chain leaves the set are their own root.
func seriesRoot(e *model.ScheduledEvent, byID map[int64]*model.ScheduledEvent) *model.ScheduledEvent {
	cur := e
	for seen := 0; cur.ParentEventID != 0 && seen < len(byID); seen++ {
		parent, ok := byID[cur.ParentEventID]
		if !ok || parent.Deleted() {
			break
		}
		cur = parent
	}
	return cur
}

func calAddress(userID, email string) string {
	if email = strings.TrimSpace(email); email != "" {
		return "mailto:" + email
	}
	return "urn:schedd:user:" + userID
}

func objectStatus(s model.EventStatus) ical.ObjectStatus {
	switch s {
	case model.StatusCancelled:
		return ical.ObjectStatusCancelled
	case model.StatusScheduled:
		return ical.ObjectStatusTentative
	default:
		return ical.ObjectStatusConfirmed
	}
}

func partStat(r model.AttendeeResponse) ical.ParticipationStatus {
	switch r {
	case model.ResponseAccepted:
		return ical.ParticipationStatusAccepted
	case model.ResponseDeclined:
		return ical.ParticipationStatusDeclined
	case model.ResponseTentative:
		return ical.ParticipationStatusTentative
	default:
		return ical.ParticipationStatusNeedsAction
	}
}

package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedd/internal/eventbus"
	"schedd/internal/handler"
	"schedd/internal/model"
	logx "schedd/pkg/logx"
)

// Cancel sets both status and processing status to cancelled.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (model.ScheduledEvent, error) {
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	actor := ActorFromContext(ctx)
	now := s.now().UTC()

	e.Status = model.StatusCancelled
	e.ProcessingStatus = model.ProcessingCancelled
	e.NextAttemptAt = nil
	e.CancelledAt = &now
	e.CancelledBy = actor.ID
	e.CancellationReason = strings.TrimSpace(reason)
	s.touch(ctx, &e)

	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return model.ScheduledEvent{}, err
	}
	s.log.Info("event cancelled", logx.Int64("id", e.ID), logx.String("by", actor.ID))
	s.publish(eventbus.EventCancelled, e)
	return e, nil
}

// Complete runs the event's handler synchronously. A handler failure is
// recorded on the event and returned; there is no automatic retry here.
// A pending event is claimed first so a batch pass cannot run it at the same
// time; an event already being processed is rejected.
func (s *Service) Complete(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	switch {
	case e.Status == model.StatusCancelled || e.ProcessingStatus == model.ProcessingCancelled:
		return model.ScheduledEvent{}, fmt.Errorf("%w: event %d is cancelled", ErrInvalidState, id)
	case e.ProcessingStatus == model.ProcessingCompleted:
		return model.ScheduledEvent{}, fmt.Errorf("%w: event %d is already completed", ErrInvalidState, id)
	case e.ProcessingStatus == model.ProcessingProcessing:
		return model.ScheduledEvent{}, fmt.Errorf("%w: event %d is being processed", ErrInvalidState, id)
	}
	h, err := s.handlers.Resolve(e.HandlerType)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	if e.ProcessingStatus == model.ProcessingPending {
		claimed, err := s.store.ClaimEvent(ctx, id, s.now().UTC())
		if err != nil {
			return model.ScheduledEvent{}, err
		}
		if !claimed {
			return model.ScheduledEvent{}, fmt.Errorf("%w: event %d was claimed by another run", ErrInvalidState, id)
		}
	}

	runErr := handler.Execute(ctx, h, e.ID)
	if runErr == nil {
		if err := handler.After(ctx, h, e.ID); err != nil {
			s.log.Warn("after-process hook failed", logx.Int64("id", e.ID), logx.Err(err))
		}
	}

	// the outcome is recorded even when the caller went away mid-run
	wctx := context.WithoutCancel(ctx)

	// the handler may have touched the row; start from the stored copy
	if cur, err := s.load(wctx, id); err == nil {
		e = cur
	}
	actor := ActorFromContext(ctx)
	now := s.now().UTC()
	s.touch(ctx, &e)

	if runErr != nil {
		e.ProcessingRetryCount++
		e.ProcessingStatus = model.ProcessingFailed
		e.ProcessingError = runErr.Error()
		e.NextAttemptAt = nil
		if err := s.store.UpdateEvent(wctx, e); err != nil {
			s.log.Error("recording failed completion", logx.Int64("id", e.ID), logx.Err(err))
		}
		if err := handler.NotifyError(ctx, h, e.ID, runErr); err != nil {
			s.log.Warn("error hook failed", logx.Int64("id", e.ID), logx.Err(err))
		}
		return e, fmt.Errorf("complete event %d: %w", id, runErr)
	}

	e.Status = model.StatusCompleted
	e.ProcessingStatus = model.ProcessingCompleted
	e.ProcessingError = ""
	e.NextAttemptAt = nil
	e.ProcessedAt = &now
	e.CompletedAt = &now
	e.CompletedBy = actor.ID
	if err := s.store.UpdateEvent(wctx, e); err != nil {
		return model.ScheduledEvent{}, err
	}
	s.log.Info("event completed", logx.Int64("id", e.ID), logx.String("by", actor.ID))
	s.publish(eventbus.EventProcessed, e)
	return e, nil
}

type RescheduleInput struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Reason         string    `json:"reason,omitempty"`
	CheckConflicts bool      `json:"check_conflicts,omitempty"`
}

// Reschedule moves the event and appends the previous interval to its
// history. Processing state is left alone.
func (s *Service) Reschedule(ctx context.Context, id int64, in RescheduleInput) (model.ScheduledEvent, error) {
	var verr model.ValidationError
	checkTimes(&verr, in.StartTime, in.EndTime)
	if err := verr.Err(); err != nil {
		return model.ScheduledEvent{}, err
	}
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	if in.CheckConflicts {
		if err := s.ensureFree(ctx, in.StartTime, in.EndTime, e.OrganizerID, e.ID); err != nil {
			return model.ScheduledEvent{}, err
		}
	}

	actor := ActorFromContext(ctx)
	now := s.now().UTC()
	e.RescheduleHistory = append(e.RescheduleHistory, model.RescheduleRecord{
		PreviousStart: e.StartTime,
		PreviousEnd:   e.EndTime,
		NewStart:      in.StartTime.UTC(),
		NewEnd:        in.EndTime.UTC(),
		Reason:        strings.TrimSpace(in.Reason),
		RescheduledBy: actor.ID,
		RescheduledAt: now,
	})
	e.StartTime = in.StartTime.UTC()
	e.EndTime = in.EndTime.UTC()
	s.touch(ctx, &e)

	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return model.ScheduledEvent{}, err
	}
	s.log.Info("event rescheduled", logx.Int64("id", e.ID), logx.Time("start", e.StartTime))
	s.publish(eventbus.EventRescheduled, e)
	return e, nil
}

// RSVP records the calling attendee's response.
func (s *Service) RSVP(ctx context.Context, id int64, response model.AttendeeResponse) (model.ScheduledEvent, error) {
	switch response {
	case model.ResponseAccepted, model.ResponseDeclined, model.ResponseTentative:
	default:
		var verr model.ValidationError
		verr.Add("response", fmt.Sprintf("must be accepted, declined or tentative, got %q", response))
		return model.ScheduledEvent{}, verr.Err()
	}
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	actor := ActorFromContext(ctx)
	i := e.Attendee(actor.ID)
	if i < 0 {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %s", ErrNotAttendee, actor.ID)
	}
	now := s.now().UTC()
	e.Attendees[i].Response = response
	e.Attendees[i].ResponseAt = &now
	s.touch(ctx, &e)

	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return model.ScheduledEvent{}, err
	}
	return e, nil
}

// Delete soft-deletes the event. Spawned occurrences are not touched.
func (s *Service) Delete(ctx context.Context, id int64) error {
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	e.DeletedAt = &now
	e.DeletedBy = ActorFromContext(ctx).ID
	s.touch(ctx, &e)
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return err
	}
	s.log.Info("event deleted", logx.Int64("id", e.ID), logx.String("by", e.DeletedBy))
	return nil
}

// Requeue puts a failed event back to pending with a clean retry budget.
func (s *Service) Requeue(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	e, err := s.loadLive(ctx, id)
	if err != nil {
		return model.ScheduledEvent{}, err
	}
	if e.ProcessingStatus != model.ProcessingFailed {
		return model.ScheduledEvent{}, fmt.Errorf("%w: event %d is %s, not failed", ErrInvalidState, id, e.ProcessingStatus)
	}
	e.ProcessingStatus = model.ProcessingPending
	e.ProcessingRetryCount = 0
	e.ProcessingError = ""
	e.NextAttemptAt = nil
	s.touch(ctx, &e)
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return model.ScheduledEvent{}, err
	}
	s.log.Info("event requeued", logx.Int64("id", e.ID))
	return e, nil
}

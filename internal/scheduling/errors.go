package scheduling

import (
	"errors"
	"fmt"

	"schedd/internal/model"
)

var (
	ErrNotFound     = errors.New("scheduled event not found")
	ErrDeleted      = errors.New("scheduled event is deleted")
	ErrNotAttendee  = errors.New("caller is not an attendee of this event")
	ErrConflict     = errors.New("scheduling conflict")
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// ConflictError lists the events that overlap a candidate interval.
type ConflictError struct {
	Conflicts []model.ScheduledEvent
}

func (c *ConflictError) Error() string {
	return fmt.Sprintf("%s with %d event(s)", ErrConflict, len(c.Conflicts))
}

func (c *ConflictError) Is(target error) bool { return target == ErrConflict }

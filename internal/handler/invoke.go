package handler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrNotProcessed is returned when ProcessScheduled reports false without an error.
var ErrNotProcessed = errors.New("handler reported event not processed")

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", p.Value) }

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = &PanicError{Value: r, Stack: string(debug.Stack())}
	}
}

// Execute runs BeforeProcess (when implemented) and ProcessScheduled. Panics
// and a false result become errors.
func Execute(ctx context.Context, h Handler, eventID int64) (err error) {
	defer recoverInto(&err)

	if bp, ok := h.(BeforeProcessor); ok {
		if err := bp.BeforeProcess(ctx, eventID); err != nil {
			return fmt.Errorf("before process: %w", err)
		}
	}
	ok, err := h.ProcessScheduled(ctx, eventID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotProcessed
	}
	return nil
}

// After runs AfterProcess when implemented.
func After(ctx context.Context, h Handler, eventID int64) (err error) {
	ap, ok := h.(AfterProcessor)
	if !ok {
		return nil
	}
	defer recoverInto(&err)
	return ap.AfterProcess(ctx, eventID)
}

// NotifyError runs OnProcessError when implemented. Panics are returned as errors.
func NotifyError(ctx context.Context, h Handler, eventID int64, cause error) (err error) {
	eh, ok := h.(ErrorHook)
	if !ok {
		return nil
	}
	defer recoverInto(&err)
	return eh.OnProcessError(ctx, eventID, cause)
}

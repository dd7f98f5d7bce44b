package processor

import (
	"context"
	"errors"
	"time"

	"schedd/internal/eventbus"
	"schedd/internal/handler"
	"schedd/internal/model"
	"schedd/internal/recurrence"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

// SystemActor stamps rows the processor writes.
const SystemActor = "system"

type outcomeKind int

const (
	outcomeSkipped outcomeKind = iota
	outcomeSucceeded
	outcomeFailed
)

type outcome struct {
	kind    outcomeKind
	spawned bool
}

func (p *Processor) processOne(ctx context.Context, cfg Config, id int64) outcome {
	log := p.log.With(logx.Int64("event", id))

	claimed, err := p.store.ClaimEvent(ctx, id, p.now().UTC())
	if err != nil {
		log.Error("claim failed", logx.Err(err))
		return outcome{kind: outcomeSkipped}
	}
	if !claimed {
		log.Debug("claim lost")
		return outcome{kind: outcomeSkipped}
	}

	// Once claimed, the row must leave processing even if the pass is
	// cancelled or times out. Only the handler sees ctx's deadline.
	wctx := context.WithoutCancel(ctx)

	e, err := p.store.GetEvent(wctx, id)
	if err != nil {
		log.Error("reload after claim failed", logx.Err(err))
		return outcome{kind: outcomeFailed}
	}

	h, runErr := p.handlers.Resolve(e.HandlerType)
	if runErr == nil {
		runCtx := ctx
		if cfg.EventTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, cfg.EventTimeout)
			defer cancel()
		}
		runErr = handler.Execute(runCtx, h, id)
	}

	if runErr != nil {
		p.fail(ctx, cfg, h, id, runErr, log)
		return outcome{kind: outcomeFailed}
	}

	if err := handler.After(ctx, h, id); err != nil {
		log.Warn("after-process hook failed", logx.Err(err))
	}
	parent, ok := p.complete(wctx, id, log)
	if !ok {
		return outcome{kind: outcomeSucceeded}
	}
	return outcome{kind: outcomeSucceeded, spawned: p.spawnNext(wctx, parent, log)}
}

// complete marks the claimed event done. It returns false when the row was
// changed underneath the run (cancelled or deleted) and was left alone.
func (p *Processor) complete(ctx context.Context, id int64, log logx.Logger) (model.ScheduledEvent, bool) {
	e, err := p.store.GetEvent(ctx, id)
	if err != nil {
		log.Error("reload after run failed", logx.Err(err))
		return model.ScheduledEvent{}, false
	}
	if e.ProcessingStatus != model.ProcessingProcessing || e.Deleted() {
		log.Warn("event changed while processing; leaving state", logx.String("processing_status", string(e.ProcessingStatus)))
		return e, false
	}

	now := p.now().UTC()
	e.Status = model.StatusCompleted
	e.ProcessingStatus = model.ProcessingCompleted
	e.ProcessingError = ""
	e.NextAttemptAt = nil
	e.ProcessedAt = &now
	e.CompletedAt = &now
	e.CompletedBy = SystemActor
	e.UpdatedAt = now
	e.UpdatedBy = SystemActor
	if err := p.store.UpdateEvent(ctx, e); err != nil {
		log.Error("recording completion failed", logx.Err(err))
		return e, false
	}
	log.Debug("event processed", logx.String("handler", e.HandlerType))
	p.publish(eventbus.EventProcessed, e, nil)
	return e, true
}

// fail applies the retry policy. State is written on an uncancellable copy of
// ctx; the error hook gets ctx itself and its own failure is logged and
// dropped.
func (p *Processor) fail(ctx context.Context, cfg Config, h handler.Handler, id int64, cause error, log logx.Logger) {
	wctx := context.WithoutCancel(ctx)
	e, err := p.store.GetEvent(wctx, id)
	if err != nil {
		log.Error("reload after failure failed", logx.Err(err))
		return
	}
	if e.ProcessingStatus != model.ProcessingProcessing || e.Deleted() {
		log.Warn("event changed while processing; leaving state", logx.String("processing_status", string(e.ProcessingStatus)), logx.Err(cause))
		return
	}

	now := p.now().UTC()
	e.ProcessingRetryCount++
	e.ProcessingError = cause.Error()
	e.UpdatedAt = now
	e.UpdatedBy = SystemActor

	typ := eventbus.EventFailed
	if e.ProcessingRetryCount < cfg.MaxAttempts {
		typ = eventbus.EventRetry
		e.ProcessingStatus = model.ProcessingPending
		e.NextAttemptAt = nil
		if cfg.RetryDelay > 0 {
			next := now.Add(cfg.RetryDelay)
			e.NextAttemptAt = &next
		}
	} else {
		e.ProcessingStatus = model.ProcessingFailed
		e.NextAttemptAt = nil
	}
	if err := p.store.UpdateEvent(wctx, e); err != nil {
		log.Error("recording failure failed", logx.Err(err))
	}

	fields := []logx.Field{logx.Int("attempt", e.ProcessingRetryCount), logx.Int("max_attempts", cfg.MaxAttempts), logx.Err(cause)}
	var pe *handler.PanicError
	if errors.As(cause, &pe) {
		fields = append(fields, logx.Stack(pe.Stack))
	}
	if typ == eventbus.EventFailed {
		log.Warn("event failed permanently", fields...)
	} else {
		log.Info("event will be retried", fields...)
	}
	p.publish(typ, e, cause)

	if h != nil {
		if err := handler.NotifyError(ctx, h, id, cause); err != nil {
			log.Warn("error hook failed", logx.Err(err))
		}
	}
}

// spawnNext inserts the following occurrence of a recurring parent unless the
// series is over or the child already exists.
func (p *Processor) spawnNext(ctx context.Context, parent model.ScheduledEvent, log logx.Logger) bool {
	if !parent.IsRecurring || parent.Recurrence == nil {
		return false
	}
	if recurrence.Exhausted(parent.Recurrence, parent.OccurrenceIndex) {
		log.Debug("recurrence exhausted", logx.Int("index", parent.OccurrenceIndex))
		return false
	}
	next, ok := recurrence.NextOccurrence(parent.StartTime, parent.Recurrence)
	if !ok {
		return false
	}

	existing, err := p.store.ListEvents(ctx, storage.EventFilter{
		ParentEventID:  parent.ID,
		StartFrom:      next,
		StartTo:        next.Add(time.Millisecond),
		IncludeDeleted: true,
		Limit:          1,
	})
	if err != nil {
		log.Error("child lookup failed", logx.Err(err))
		return false
	}
	if len(existing) > 0 {
		log.Debug("occurrence already spawned", logx.Int64("child", existing[0].ID))
		return false
	}

	child := model.SpawnOccurrence(parent, next, p.newID(), p.now().UTC())
	if err := p.store.InsertEvent(ctx, &child); err != nil {
		log.Error("spawning occurrence failed", logx.Err(err), logx.Time("start", next))
		return false
	}
	log.Info("occurrence spawned", logx.Int64("child", child.ID), logx.Time("start", next), logx.Int("index", child.OccurrenceIndex))
	p.publish(eventbus.EventSpawned, child, nil)
	return true
}

func (p *Processor) publish(typ string, e model.ScheduledEvent, cause error) {
	if p.bus == nil {
		return
	}
	data := map[string]any{
		"id":        e.ID,
		"public_id": e.PublicID,
		"handler":   e.HandlerType,
	}
	if e.ParentEventID != 0 {
		data["parent_id"] = e.ParentEventID
	}
	if cause != nil {
		data["error"] = cause.Error()
		data["attempt"] = e.ProcessingRetryCount
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.now(), Data: data})
}

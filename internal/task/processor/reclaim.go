package processor

import (
	"context"
	"errors"
	"fmt"

	"schedd/internal/eventbus"
	"schedd/internal/model"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

// ErrInterrupted is recorded on events whose run was cut off by a process
// exit after the claim.
var ErrInterrupted = errors.New("interrupted while processing")

// Reclaim sends events left in processing by a previous process through the
// retry policy, counting the lost run as an attempt. Call it before the
// first pass; a row claimed by a live pass would be reclaimed too.
func (p *Processor) Reclaim(ctx context.Context) (int, error) {
	cfg := p.Config()
	stuck, err := p.store.ListEvents(ctx, storage.EventFilter{
		ProcessingStatuses: []model.ProcessingStatus{model.ProcessingProcessing},
	})
	if err != nil {
		return 0, fmt.Errorf("list stranded events: %w", err)
	}

	var errs []error
	n := 0
	for _, e := range stuck {
		now := p.now().UTC()
		e.ProcessingRetryCount++
		e.ProcessingError = ErrInterrupted.Error()
		e.UpdatedAt = now
		e.UpdatedBy = SystemActor
		e.NextAttemptAt = nil
		typ := eventbus.EventRetry
		if e.ProcessingRetryCount < cfg.MaxAttempts {
			e.ProcessingStatus = model.ProcessingPending
		} else {
			e.ProcessingStatus = model.ProcessingFailed
			typ = eventbus.EventFailed
		}
		if err := p.store.UpdateEvent(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", e.ID, err))
			continue
		}
		n++
		p.log.Warn("reclaimed stranded event",
			logx.Int64("event", e.ID),
			logx.String("processing_status", string(e.ProcessingStatus)),
			logx.Int("attempt", e.ProcessingRetryCount),
		)
		p.publish(typ, e, ErrInterrupted)
	}
	return n, errors.Join(errs...)
}

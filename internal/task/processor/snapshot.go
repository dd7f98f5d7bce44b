package processor

import (
	"context"
	"errors"
	"time"

	"schedd/internal/task/engine"
)

// Run is one entry of the pass history.
type Run struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Result   Result        `json:"result"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	BatchSize    int           `json:"batch_size"`
	Workers      int           `json:"workers"`
	MaxAttempts  int           `json:"max_attempts"`
	RetryDelay   time.Duration `json:"retry_delay"`
	EventTimeout time.Duration `json:"event_timeout"`
	RateLimit    float64       `json:"rate_limit"`
	Passes       uint64        `json:"passes"`
	Totals       Result        `json:"totals"`
	LastRun      *Run          `json:"last_run,omitempty"`
	History      []Run         `json:"history"`
}

func (p *Processor) record(r Run, size int) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.passes++
	p.totals.Total += r.Result.Total
	p.totals.Succeeded += r.Result.Succeeded
	p.totals.Failed += r.Result.Failed
	p.totals.Skipped += r.Result.Skipped
	p.totals.Spawned += r.Result.Spawned
	p.history = append(p.history, r)
	if len(p.history) > size {
		p.history = p.history[len(p.history)-size:]
	}
}

func (p *Processor) Snapshot() Snapshot {
	cfg := p.Config()
	p.hmu.Lock()
	h := make([]Run, len(p.history))
	copy(h, p.history)
	snap := Snapshot{
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   cfg.RetryDelay,
		EventTimeout: cfg.EventTimeout,
		RateLimit:    cfg.RateLimit,
		Passes:       p.passes,
		Totals:       p.totals,
		History:      h,
	}
	p.hmu.Unlock()
	if len(h) > 0 {
		last := h[len(h)-1]
		snap.LastRun = &last
	}
	return snap
}

// Job adapts ProcessDue to the task engine. Per-event failures are part of
// the Result, so only listing or dispatch errors fail the job. A pass cut
// short by its deadline is not retried; the next trigger picks up the rest.
func (p *Processor) Job(ctx context.Context) error {
	_, err := p.ProcessDue(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.NoRetry(err)
	}
	return err
}

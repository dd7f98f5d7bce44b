// Package processor runs the batch pass over due scheduled events: claim,
// execute the handler lifecycle, apply the retry policy and spawn the next
// recurrence.
package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"schedd/internal/eventbus"
	"schedd/internal/handler"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

const (
	DefaultBatchSize   = 50
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Minute
)

type Config struct {
	BatchSize   int
	Workers     int
	MaxAttempts int
	// RetryDelay is the minimum gap before a failed event is attempted
	// again. Zero retries on the next pass.
	RetryDelay time.Duration
	// EventTimeout bounds a single handler run. Zero means no limit.
	EventTimeout time.Duration
	// RateLimit caps dispatches per second. Zero means unlimited.
	RateLimit   float64
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// Result counts the outcome of one pass. Skipped events lost their claim to
// a concurrent pass or caller.
type Result struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Spawned   int `json:"spawned"`
}

type Deps struct {
	Logger   logx.Logger
	Store    storage.EventStore
	Handlers *handler.Registry
	Bus      eventbus.Bus
	Now      func() time.Time
	NewID    func() string
}

type Processor struct {
	log      logx.Logger
	store    storage.EventStore
	handlers *handler.Registry
	bus      eventbus.Bus
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []Run
	totals  Result
	passes  uint64
}

func New(cfg Config, d Deps) *Processor {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Processor{
		log:      log.With(logx.String("comp", "processor")),
		store:    d.Store,
		handlers: d.Handlers,
		bus:      d.Bus,
		now:      d.Now,
		newID:    d.NewID,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	p.Apply(cfg)
	return p
}

// Apply swaps the config; the next pass picks it up.
func (p *Processor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	var lim *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.limiter = lim
	p.mu.Unlock()
}

func (p *Processor) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// ProcessDue runs one batch pass. Each candidate is isolated: a failing or
// panicking handler only affects its own event. The returned error is set
// only when candidates could not be listed or dispatch was interrupted.
func (p *Processor) ProcessDue(ctx context.Context) (Result, error) {
	p.mu.Lock()
	cfg := p.cfg
	lim := p.limiter
	p.mu.Unlock()

	started := p.now()
	candidates, err := p.store.ListEvents(ctx, storage.DueFilter(started.UTC(), cfg.BatchSize))
	if err != nil {
		return Result{}, err
	}

	var (
		succeeded, failed, skipped, spawned int64
		dispatched                          int
		dispatchErr                         error
	)
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for _, cand := range candidates {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				dispatchErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			dispatchErr = err
			break
		}
		id := cand.ID
		dispatched++
		g.Go(func() error {
			out := p.processOne(ctx, cfg, id)
			switch out.kind {
			case outcomeSucceeded:
				atomic.AddInt64(&succeeded, 1)
			case outcomeFailed:
				atomic.AddInt64(&failed, 1)
			case outcomeSkipped:
				atomic.AddInt64(&skipped, 1)
			}
			if out.spawned {
				atomic.AddInt64(&spawned, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Total:     dispatched,
		Succeeded: int(succeeded),
		Failed:    int(failed),
		Skipped:   int(skipped),
		Spawned:   int(spawned),
	}
	dur := p.now().Sub(started)
	p.record(Run{Started: started, Duration: dur, Result: res, Error: errString(dispatchErr)}, cfg.HistorySize)

	if res.Total > 0 || dispatchErr != nil {
		p.log.Info("batch completed",
			logx.Int("total", res.Total),
			logx.Int("succeeded", res.Succeeded),
			logx.Int("failed", res.Failed),
			logx.Int("skipped", res.Skipped),
			logx.Int("spawned", res.Spawned),
			logx.Duration("dur", dur),
		)
	} else {
		p.log.Debug("batch completed", logx.Int("total", 0))
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.BatchCompleted, Time: p.now(), Data: res})
	}
	return res, dispatchErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package app wires configuration, storage, the handler registry, the
// scheduling services, the batch processor and the HTTP API into one
// process with hot config reload and ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedd/internal/availability"
	"schedd/internal/config"
	"schedd/internal/eventbus"
	"schedd/internal/handler"
	rtsup "schedd/internal/runtime/supervisor"
	"schedd/internal/scheduling"
	"schedd/internal/storage"
	"schedd/internal/task/engine"
	"schedd/internal/task/processor"
	"schedd/internal/task/scheduler"
	"schedd/internal/transport/httpapi"
	logx "schedd/pkg/logx"
)

// ManifestFunc builds the compiled-in handler list once storage is open.
type ManifestFunc func(store storage.Store, now func() time.Time) handler.Manifest

type Option func(*options)

type options struct {
	manifest ManifestFunc
	now      func() time.Time
	envFiles []string
}

// WithManifest sets the handlers registered at startup.
func WithManifest(fn ManifestFunc) Option { return func(o *options) { o.manifest = fn } }

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithEnvFiles loads .env files before the config is parsed. Missing files
// are ignored.
func WithEnvFiles(paths ...string) Option {
	return func(o *options) { o.envFiles = append(o.envFiles, paths...) }
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	now   func() time.Time

	handlers   *handler.Registry
	avail      *availability.Engine
	scheduling *scheduling.Service

	engine  *engine.Service
	trigger *scheduler.Service
	proc    *processor.Processor
	batch   *batchRunner

	http    *httpapi.Server
	started time.Time
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.envFiles) > 0 {
		if err := config.LoadDotEnv(o.envFiles...); err != nil {
			return nil, err
		}
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorage(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   appLog,
		logs:  logSvc,
		bus:   bus,
		store: store,
		now:   o.now,
	}
	if err := a.build(cfg, log, o); err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger, o options) error {
	a.handlers = handler.NewRegistry(log.With(logx.String("comp", "handlers")), a.bus)
	if o.manifest != nil {
		deps := handler.Deps{Logger: log.With(logx.String("comp", "handler")), Events: a.store, Bus: a.bus}
		if err := a.handlers.ApplyManifest(context.Background(), o.manifest(a.store, a.now), deps); err != nil {
			a.log.Warn("handler manifest applied with errors", logx.Err(err))
		}
	}
	if unknown := a.handlers.ApplyEnabled(cfg.HandlerFlags()); len(unknown) > 0 {
		a.log.Warn("config names unregistered handlers", logx.String("types", strings.Join(unknown, ",")))
	}

	a.avail = availability.New(a.store, a.store, log.With(logx.String("comp", "availability")), a.now)
	a.scheduling = scheduling.New(scheduling.Deps{
		Logger:    log,
		Store:     a.store,
		Handlers:  a.handlers,
		Conflicts: a.avail,
		Bus:       a.bus,
		Now:       a.now,
	})

	engCfg, err := mapEngine(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.trigger = scheduler.New(mapScheduler(cfg), a.engine, log.With(logx.String("comp", "scheduler")))

	pcfg, err := mapProcessor(cfg)
	if err != nil {
		return err
	}
	a.proc = processor.New(pcfg, processor.Deps{
		Logger:   log,
		Store:    a.store,
		Handlers: a.handlers,
		Bus:      a.bus,
		Now:      a.now,
	})
	a.batch = newBatchRunner(a.engine, a.proc)
	a.batch.setTimeout(engCfg.DefaultTimeout)

	a.http = httpapi.NewServer(httpapi.Deps{
		Logger:       log,
		Scheduling:   a.scheduling,
		Availability: a.avail,
		Handlers:     a.handlers,
		Processor:    a.batch,
		Posts:        a.store,
		Status:       func() any { return a.Status() },
		Now:          a.now,
	})
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Scheduling() *scheduling.Service { return a.scheduling }
func (a *App) Handlers() *handler.Registry     { return a.handlers }
func (a *App) Bus() eventbus.Bus               { return a.bus }

// RunBatch executes one processor pass through the task engine.
func (a *App) RunBatch(ctx context.Context) (processor.Result, error) {
	return a.batch.RunNow(ctx)
}

// HTTPAddr is the bound API address, empty when the listener is off.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = a.now()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// reject what the config package cannot see: mapping errors
		var errs []error
		if _, err := mapStorage(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapEngine(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapProcessor(cfg); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapHTTP(cfg); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	cfg := a.cfgm.Get()
	runCtx := a.sup.Context()

	// nothing in this process has claimed an event yet
	if n, err := a.proc.Reclaim(runCtx); err != nil {
		a.log.Warn("reclaiming stranded events failed", logx.Err(err), logx.Int("reclaimed", n))
	} else if n > 0 {
		a.log.Info("stranded events reclaimed", logx.Int("count", n))
	}

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if err := a.batch.register(a.trigger, scheduleOf(cfg)); err != nil {
		return fmt.Errorf("processor.schedule: %w", err)
	}
	if cfg.Processor.RunOnStart && processorEnabled(cfg) {
		if err := a.batch.scheduleStartup(a.trigger, a.now()); err != nil {
			return err
		}
	}
	if a.trigger.Enabled() {
		a.trigger.Start(runCtx)
	}

	httpCfg, err := mapHTTP(cfg)
	if err != nil {
		return err
	}
	if err := a.http.Apply(runCtx, httpCfg); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	a.startEventLog()
	a.startReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("processor", processorEnabled(cfg)),
		logx.String("schedule", scheduleOf(cfg)),
		logx.Int("handlers", len(a.handlers.Statuses())),
	)
	return nil
}

// startEventLog mirrors bus traffic to the debug log.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Keep this debug-level to avoid noise for frequent schedulers.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; a late finish is logged as a leak
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// the API goes first so no new work arrives while the engine drains
	step("http", 5*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

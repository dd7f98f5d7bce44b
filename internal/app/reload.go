package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"schedd/internal/config"
	"schedd/internal/eventbus"
	logx "schedd/pkg/logx"
)

// startReload fans committed configs out to the live components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				newCfg = coalesce(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// coalesce drains queued configs and keeps the newest.
func coalesce(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, handlersChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(handlersChanged) > 0 {
		a.log.Debug("handler flags changed", logx.String("types", strings.Join(handlersChanged, ",")))
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	// logging first so the rest of the apply is logged at the new level
	a.logs.Apply(mapLogging(newCfg))

	if pcfg, err := mapProcessor(newCfg); err != nil {
		a.log.Warn("invalid processor config; keeping previous", logx.Err(err))
	} else {
		a.proc.Apply(pcfg)
	}

	prevSched := a.trigger.Enabled()
	prevTimeout := a.batch.taskTimeout()
	engCfg, err := mapEngine(newCfg)
	if err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		// Apply starts or stops the engine on enable flips
		a.engine.Apply(ctx, engCfg)
		a.batch.setTimeout(engCfg.DefaultTimeout)
	}

	schedCfg := mapScheduler(newCfg)
	a.trigger.Apply(schedCfg)
	if scheduleOf(oldCfg) != scheduleOf(newCfg) || a.batch.taskTimeout() != prevTimeout {
		if rerr := a.batch.register(a.trigger, scheduleOf(newCfg)); rerr != nil {
			a.log.Warn("invalid processor.schedule; keeping previous", logx.Err(rerr))
		}
	}
	switch {
	case prevSched && !schedCfg.Enabled:
		a.log.Info("processor trigger disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.trigger.Stop(stopCtx)
		cancel()
	case !prevSched && schedCfg.Enabled:
		a.log.Info("processor trigger enabled via config")
		a.trigger.Start(ctx)
	}

	if unknown := a.handlers.ApplyEnabled(newCfg.HandlerFlags()); len(unknown) > 0 {
		a.log.Warn("config names unregistered handlers", logx.String("types", strings.Join(unknown, ",")))
	}

	if hc, err := mapHTTP(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else if err := a.http.Apply(ctx, hc); err != nil {
		a.log.Error("http reconfigure failed", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: a.now(), Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

package app

import (
	"time"

	"schedd/internal/eventbus"
	rtsup "schedd/internal/runtime/supervisor"
	"schedd/internal/task/engine"
	"schedd/internal/task/processor"
	"schedd/internal/task/scheduler"
)

// Status is the runtime view served by GET /api/status.
type Status struct {
	Started    time.Time          `json:"started"`
	Uptime     string             `json:"uptime"`
	HTTPAddr   string             `json:"http_addr,omitempty"`
	Handlers   int                `json:"handlers"`
	Enabled    int                `json:"handlers_enabled"`
	Bus        eventbus.Stats     `json:"bus"`
	Supervisor rtsup.Counters     `json:"supervisor"`
	Engine     engine.Snapshot    `json:"engine"`
	Scheduler  scheduler.Snapshot `json:"scheduler"`
	Processor  processor.Snapshot `json:"processor"`
}

func (a *App) Status() Status {
	st := Status{
		Started:   a.started,
		HTTPAddr:  a.http.Addr(),
		Bus:       a.bus.Stats(),
		Engine:    a.engine.Snapshot(),
		Scheduler: a.trigger.Snapshot(),
		Processor: a.proc.Snapshot(),
	}
	if !a.started.IsZero() {
		st.Uptime = a.now().Sub(a.started).Round(time.Second).String()
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	for _, h := range a.handlers.Statuses() {
		st.Handlers++
		if h.Enabled {
			st.Enabled++
		}
	}
	return st
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"schedd/internal/task/scheduler"
	logx "schedd/pkg/logx"
)

// Validate checks shape and value ranges. It does not touch the filesystem
// or open listeners; those failures surface when the config is applied.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled=true"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	p := c.Processor
	if s := strings.TrimSpace(p.Schedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			add(fmt.Errorf("processor.schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("processor.timezone: %w", err))
		}
	}
	for _, f := range []struct {
		path string
		v    int
	}{
		{"processor.batch_size", p.BatchSize},
		{"processor.workers", p.Workers},
		{"processor.max_attempts", p.MaxAttempts},
		{"processor.history_size", p.HistorySize},
		{"processor.engine.workers", p.Engine.Workers},
		{"processor.engine.queue_size", p.Engine.QueueSize},
		{"processor.engine.history_size", p.Engine.HistorySize},
		{"processor.engine.retry_max", p.Engine.RetryMax},
		{"http.body_limit", c.HTTP.BodyLimit},
	} {
		if f.v < 0 {
			add(fmt.Errorf("%s must be >= 0", f.path))
		}
	}
	if p.RateLimit < 0 {
		add(errors.New("processor.rate_limit must be >= 0"))
	}
	if p.RetryDelay != nil {
		_, err := ParseDurationField("processor.retry_delay", *p.RetryDelay)
		add(err)
	}
	_, err = ParseDurationField("processor.event_timeout", p.EventTimeout)
	add(err)
	_, err = ParseDurationField("processor.engine.timeout", p.Engine.Timeout)
	add(err)

	_, err = ParseDurationField("http.read_timeout", c.HTTP.ReadTimeout)
	add(err)
	_, err = ParseDurationField("http.write_timeout", c.HTTP.WriteTimeout)
	add(err)
	_, err = ParseDurationField("http.idle_timeout", c.HTTP.IdleTimeout)
	add(err)

	for name := range c.Handlers {
		if strings.TrimSpace(name) == "" {
			add(errors.New("handlers: empty handler type"))
		}
	}
	return errors.Join(errs...)
}

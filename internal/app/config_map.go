package app

import (
	"fmt"
	"strings"
	"time"

	"schedd/internal/config"
	"schedd/internal/storage"
	"schedd/internal/task/engine"
	"schedd/internal/task/processor"
	"schedd/internal/task/scheduler"
	"schedd/internal/transport/httpapi"
	logx "schedd/pkg/logx"
)

const (
	defaultSchedule    = "@every 1m"
	defaultBusyTimeout = time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		Journal: cfg.Logging.Journal,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func processorEnabled(cfg *config.Config) bool {
	return cfg.Processor.Enabled == nil || *cfg.Processor.Enabled
}

func mapEngine(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Processor.Engine
	timeout, err := config.ParseDurationField("processor.engine.timeout", ec.Timeout)
	if err != nil {
		return engine.Config{}, err
	}
	// zero values take the engine defaults
	return engine.Config{
		Enabled:        processorEnabled(cfg),
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    ec.HistorySize,
		RetryMax:       ec.RetryMax,
	}, nil
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  processorEnabled(cfg),
		Timezone: strings.TrimSpace(cfg.Processor.Timezone),
	}
}

func scheduleOf(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Processor.Schedule); s != "" {
		return s
	}
	return defaultSchedule
}

func mapProcessor(cfg *config.Config) (processor.Config, error) {
	pc := cfg.Processor
	// nil keeps the default; an explicit "0s" means retry on the next pass
	retry := processor.DefaultRetryDelay
	if pc.RetryDelay != nil {
		d, err := config.ParseDurationField("processor.retry_delay", *pc.RetryDelay)
		if err != nil {
			return processor.Config{}, err
		}
		retry = d
	}
	eventTimeout, err := config.ParseDurationField("processor.event_timeout", pc.EventTimeout)
	if err != nil {
		return processor.Config{}, err
	}
	return processor.Config{
		BatchSize:    pc.BatchSize,
		Workers:      pc.Workers,
		MaxAttempts:  pc.MaxAttempts,
		RetryDelay:   retry,
		EventTimeout: eventTimeout,
		RateLimit:    pc.RateLimit,
		HistorySize:  pc.HistorySize,
	}, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", hc.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:      hc.Enabled,
		Addr:         strings.TrimSpace(hc.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		CORSOrigins:  hc.CORSOrigins,
		BodyLimit:    hc.BodyLimit,
		Pprof:        hc.Pprof,
	}, nil
}

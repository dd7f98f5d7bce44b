package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging and (3) the handler types whose enabled
// flag changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.journal", newCfg.Logging.Journal),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// storage is only read at startup; surface it so operators know a restart is needed
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.restart_required", true),
		)
	}

	if !reflect.DeepEqual(oldCfg.Processor, newCfg.Processor) {
		changed = append(changed, "processor")
		p := newCfg.Processor
		retry := ""
		if p.RetryDelay != nil {
			retry = strings.TrimSpace(*p.RetryDelay)
		}
		attrs = append(attrs,
			logx.Bool("processor.enabled", p.Enabled == nil || *p.Enabled),
			logx.String("processor.schedule", strings.TrimSpace(p.Schedule)),
			logx.String("processor.timezone", strings.TrimSpace(p.Timezone)),
			logx.Int("processor.batch_size", p.BatchSize),
			logx.Int("processor.workers", p.Workers),
			logx.Int("processor.max_attempts", p.MaxAttempts),
			logx.String("processor.retry_delay", retry),
			logx.Float64("processor.rate_limit", p.RateLimit),
			logx.Int("processor.engine.workers", p.Engine.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.cors_origins", len(newCfg.HTTP.CORSOrigins)),
		)
	}

	handlersChanged := diffHandlers(oldCfg.Handlers, newCfg.Handlers)
	if len(handlersChanged) > 0 {
		changed = append(changed, "handlers")
		attrs = append(attrs,
			logx.Int("handlers.enabled", countEnabled(newCfg.Handlers)),
			logx.Int("handlers.total", len(newCfg.Handlers)),
		)
	}

	return changed, attrs, handlersChanged
}

func countEnabled(m map[string]HandlerConfig) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffHandlers(oldM, newM map[string]HandlerConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oldOK := oldM[name]
		n, newOK := newM[name]
		if oldOK != newOK || o.Enabled != n.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

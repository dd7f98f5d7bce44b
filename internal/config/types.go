package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Processor ProcessorConfig `json:"processor"`
	HTTP      HTTPConfig      `json:"http"`

	// Handlers overrides the enabled flag of registered handler types.
	// Types missing from the map keep their manifest default.
	Handlers map[string]HandlerConfig `json:"handlers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	Journal bool        `json:"journal,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the event store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./schedd.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ProcessorConfig controls the batch pass and its trigger.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - schedule: "@every 1m"
//   - batch_size: 50
//   - workers: 4
//   - max_attempts: 3
//   - retry_delay: "5m" ("0s" retries on the next pass)
//   - event_timeout: "0s" (disabled)
//   - rate_limit: 0 (unlimited)
type ProcessorConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Schedule accepts cron ("*/1 * * * *", "@every 1m") or an interval ("1m", "00:05").
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	BatchSize    int     `json:"batch_size,omitempty"`
	Workers      int     `json:"workers,omitempty"`
	MaxAttempts  int     `json:"max_attempts,omitempty"`
	RetryDelay   *string `json:"retry_delay,omitempty"`
	EventTimeout string  `json:"event_timeout,omitempty"`
	RateLimit    float64 `json:"rate_limit,omitempty"`
	HistorySize  int     `json:"history_size,omitempty"`

	// RunOnStart fires one pass right after startup.
	RunOnStart bool `json:"run_on_start,omitempty"`

	Engine EngineConfig `json:"engine"`
}

// EngineConfig controls the task engine that executes triggered passes.
//
// Defaults:
//   - workers: 2
//   - queue_size: 64
//   - timeout: "0s" (disabled)
//   - history_size: 100
//   - retry_max: 0 (a failed pass waits for the next trigger)
type EngineConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
}

// HTTPConfig controls the JSON API listener.
type HTTPConfig struct {
	Enabled      bool     `json:"enabled"`
	Addr         string   `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	ReadTimeout  string   `json:"read_timeout,omitempty"`
	WriteTimeout string   `json:"write_timeout,omitempty"`
	IdleTimeout  string   `json:"idle_timeout,omitempty"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`
	// BodyLimit caps request bodies in bytes. Zero keeps the fiber default.
	BodyLimit int `json:"body_limit,omitempty"`
	// Pprof mounts runtime profiles under /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

type HandlerConfig struct {
	Enabled bool `json:"enabled"`
}

// HandlerFlags flattens Handlers for the registry.
func (c *Config) HandlerFlags() map[string]bool {
	if c == nil || len(c.Handlers) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.Handlers))
	for k, v := range c.Handlers {
		out[k] = v.Enabled
	}
	return out
}

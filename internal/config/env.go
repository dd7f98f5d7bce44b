package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "SCHEDD_"

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

type envBinding struct {
	key   string
	apply func(cfg *Config, v string) error
}

// envBindings lists the supported overrides. Keys are appended to EnvPrefix.
var envBindings = []envBinding{
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_JSON", func(c *Config, v string) error { return setBool(&c.Logging.JSON, v) }},
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = v; return nil }},
	{"STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"PROCESSOR_ENABLED", func(c *Config, v string) error {
		var b bool
		if err := setBool(&b, v); err != nil {
			return err
		}
		c.Processor.Enabled = &b
		return nil
	}},
	{"PROCESSOR_SCHEDULE", func(c *Config, v string) error { c.Processor.Schedule = v; return nil }},
	{"PROCESSOR_TIMEZONE", func(c *Config, v string) error { c.Processor.Timezone = v; return nil }},
	{"PROCESSOR_WORKERS", func(c *Config, v string) error { return setInt(&c.Processor.Workers, v) }},
	{"PROCESSOR_BATCH_SIZE", func(c *Config, v string) error { return setInt(&c.Processor.BatchSize, v) }},
	{"PROCESSOR_MAX_ATTEMPTS", func(c *Config, v string) error { return setInt(&c.Processor.MaxAttempts, v) }},
	{"PROCESSOR_RETRY_DELAY", func(c *Config, v string) error { c.Processor.RetryDelay = &v; return nil }},
	{"HTTP_ENABLED", func(c *Config, v string) error { return setBool(&c.HTTP.Enabled, v) }},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
}

// applyEnv overlays SCHEDD_* variables onto cfg. lookup is os.LookupEnv in
// production.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

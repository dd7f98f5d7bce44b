package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// normalizeLevel maps config spellings onto zerolog level names.
func normalizeLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "warning":
		return "warn"
	case "off":
		return "disabled"
	}
	return s
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	name := normalizeLevel(s)
	if name == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}

// ValidLevel reports whether s names a supported level. Empty means info;
// "off" silences everything.
func ValidLevel(s string) bool {
	switch normalizeLevel(s) {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
		return true
	}
	return false
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// day and week units on top of time.ParseDuration; only as a whole leading
// term so "1d12h" works but "12h1d" does not.
var longUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDurationField parses a duration such as "90s", "2h30m" or "1d12h".
// Empty means zero and negative values are rejected. Errors name the
// config path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseLongDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func parseLongDuration(s string) (time.Duration, error) {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == i || j == len(s) {
		return time.ParseDuration(s)
	}
	unit, ok := longUnits[s[j]]
	if !ok {
		return time.ParseDuration(s)
	}
	n, err := strconv.ParseInt(s[i:j], 10, 32)
	if err != nil {
		return 0, err
	}
	d := time.Duration(n) * unit
	if rest := s[j+1:]; rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		if extra < 0 {
			return 0, fmt.Errorf("sign inside duration %q", s)
		}
		d += extra
	}
	if s[0] == '-' {
		d = -d
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if d, err := ParseDurationField(path, raw); err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

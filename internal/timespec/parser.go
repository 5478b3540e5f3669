// Package timespec turns user-supplied points in time into Unix
// millisecond timestamps, the unit used by message and history timestamps.
package timespec

import (
	"fmt"
	"strconv"
	"time"
)

// Parse resolves spec against the current time. See ParseAt.
func Parse(spec string) (int64, error) {
	return ParseAt(spec, time.Now())
}

// ParseAt parses a time specification into a Unix timestamp (milliseconds).
// Supported forms:
//   - Go duration, relative to now: "90s", "10m", "1h30m" means that long ago
//   - RFC3339 timestamp: "2025-10-29T13:00:00Z"
//   - raw Unix milliseconds: "1730206800000"
func ParseAt(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid time specification: %s (duration must not be negative)", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	if ms, err := strconv.ParseInt(spec, 10, 64); err == nil && ms > 0 {
		return ms, nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '10m', RFC3339 like '2025-10-29T13:00:00Z', or unix milliseconds)", spec)
}

// ParseRange parses both --since and --until flags into a time range.
// Zero values mean "no bound" for that end of the range.
func ParseRange(since, until string, now time.Time) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = ParseAt(since, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilMS, err = ParseAt(until, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}

	return sinceMS, untilMS, nil
}

// InRange reports whether ts falls inside [since, until], treating zero
// bounds as open.
func InRange(ts, since, until int64) bool {
	if since > 0 && ts < since {
		return false
	}
	if until > 0 && ts > until {
		return false
	}
	return true
}

package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var isoDuration = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseInterval parses an ISO-8601 duration (PT1H, P1D, P1W, P1DT12H) or a
// Go duration string (90m). Years and months are rejected because their
// length is not fixed. The interval must be positive.
func ParseInterval(s string) (time.Duration, error) {
	if m := isoDuration.FindStringSubmatch(s); m != nil && s != "P" && s != "PT" {
		units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
		var d time.Duration
		for i, unit := range units {
			if m[i+1] == "" {
				continue
			}
			n, err := strconv.ParseInt(m[i+1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid interval %q: %w", s, err)
			}
			d += time.Duration(n) * unit
		}
		if m[5] != "" {
			secs, err := strconv.ParseFloat(m[5], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid interval %q: %w", s, err)
			}
			d += time.Duration(secs * float64(time.Second))
		}
		if d <= 0 {
			return 0, fmt.Errorf("interval %q must be positive", s)
		}
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: want ISO-8601 or Go duration", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", s)
	}
	return d, nil
}

// LatestBoundary returns the most recent boundary start + k*interval
// (k >= 1) at or before now. It reports false when no boundary has elapsed
// yet, including when start is in the future.
func LatestBoundary(start time.Time, interval time.Duration, now time.Time) (time.Time, bool) {
	if interval <= 0 || now.Before(start) {
		return time.Time{}, false
	}
	k := now.Sub(start) / interval
	if k < 1 {
		return time.Time{}, false
	}
	return start.Add(k * interval), true
}

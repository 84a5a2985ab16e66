package main

import (
	"fmt"
	"strconv"
	"time"
)

const timePointLayout = "2006-01-02 15:04:05"

// parseTimePoint parses the --time flag's "YYYY-MM-DD HH:MM:SS" format in
// local time, per spec §6.
func parseTimePoint(s string) (time.Time, error) {
	return time.ParseInLocation(timePointLayout, s, time.Local)
}

// parseRangeDuration parses the --time-range flag's "<int><unit>" format,
// unit one of s (seconds), m (minutes), h (hours), d (days).
func parseRangeDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	unit := s[len(s)-1]
	var mult time.Duration
	switch unit {
	case 's':
		mult = time.Second
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	case 'd':
		mult = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid duration unit %q in %q, want one of s/m/h/d", unit, s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * mult, nil
}

// resolveWindow turns the --time/--time-range flags into a concrete
// [windowStart, windowEnd] pair symmetric around the anchor, per spec
// §6: [anchor-range, anchor+range]. An empty timeFlag anchors the
// window on now; an empty rangeFlag defaults to a one-hour lookback (and
// lookahead).
func resolveWindow(timeFlag, rangeFlag string) (start, end time.Time, err error) {
	anchor := time.Now()
	if timeFlag != "" {
		anchor, err = parseTimePoint(timeFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --time: %w", err)
		}
	}

	lookback := time.Hour
	if rangeFlag != "" {
		lookback, err = parseRangeDuration(rangeFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --time-range: %w", err)
		}
	}

	return anchor.Add(-lookback), anchor.Add(lookback), nil
}

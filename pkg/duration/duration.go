// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with day and week units, so
// retention windows can be written as "30d" or "2w" instead of "720h".
//
// Supported extended units (case-insensitive): d/day/days, w/wk/week/weeks.
// Everything time.ParseDuration accepts still works unchanged.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedPattern matches day/week components, with optional whitespace
// between number and unit: "30d", "30 days", "2weeks".
var extendedPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// wordPattern rewrites spelled-out standard units to the short forms Go's
// parser accepts: "3 hours" -> "3h".
var wordPattern = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?)`)

var wordShort = map[string]string{
	"hour": "h", "hr": "h",
	"minute": "m", "min": "m",
	"second": "s", "sec": "s",
	"millisecond": "ms",
}

// Parse parses a human-readable duration string. Day and week components are
// converted to hours, then the remainder is delegated to time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var hours int64
	rest := extendedPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := extendedPattern.FindStringSubmatch(match)
		n, _ := strconv.ParseInt(sub[1], 10, 64)
		switch strings.ToLower(sub[2])[0] {
		case 'w':
			hours += n * 7 * 24
		case 'd':
			hours += n * 24
		}
		return ""
	})

	rest = wordPattern.ReplaceAllStringFunc(rest, func(match string) string {
		sub := wordPattern.FindStringSubmatch(match)
		unit := strings.ToLower(strings.TrimSuffix(sub[2], "s"))
		if short, ok := wordShort[unit]; ok {
			return sub[1] + short
		}
		return match
	})

	// Go's parser rejects embedded spaces between components.
	rest = strings.Join(strings.Fields(rest), "")

	var out string
	if hours > 0 {
		out = fmt.Sprintf("%dh", hours)
	}
	out += rest
	if out == "" {
		out = "0s"
	}

	d, err := time.ParseDuration(out)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration with week/day components, omitting zero parts:
// 36h becomes "1d12h", 0 becomes "0s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	neg := ""
	if d < 0 {
		neg, d = "-", -d
	}

	var b strings.Builder
	for _, part := range []struct {
		unit time.Duration
		name string
	}{{Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"}, {time.Millisecond, "ms"}} {
		if n := d / part.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, part.name)
			d -= n * part.unit
		}
	}
	if b.Len() == 0 {
		fmt.Fprintf(&b, "%dns", d)
	}
	return neg + b.String()
}

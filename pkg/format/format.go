// Package format renders byte counts, grouped integers, and cron schedules
// in the phrasing heygemd uses in logs.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes renders a byte count for logs: Bytes(1536) = "1.5 KB".
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	units := [...]string{"KB", "MB", "GB", "TB", "PB"}
	div, idx := int64(unit), 0
	for rest := n / unit; rest >= unit && idx < len(units)-1; rest /= unit {
		div *= unit
		idx++
	}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), units[idx])
}

var printer = message.NewPrinter(language.English)

// Number renders n with thousands separators: Number(1234567) = "1,234,567".
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// CronDescription renders a 6-field cron expression (seconds first, the
// robfig layout the maintenance schedule uses) as a short English phrase.
// Expressions it cannot phrase come back unchanged.
func CronDescription(expr string) string {
	f := strings.Fields(strings.TrimSpace(expr))
	if len(f) < 6 {
		return expr
	}
	// A seventh (year) field is legal in some dialects; ignore it.
	f = f[:6]
	sec, min, hour, dom, dow := f[0], f[1], f[2], f[3], f[5]

	// Interval schedules read best as "every N <unit>".
	if n, ok := stepOf(sec); ok {
		return fmt.Sprintf("Every %d seconds", n)
	}
	if n, ok := stepOf(min); ok {
		return fmt.Sprintf("Every %d minutes", n)
	}
	if n, ok := stepOf(hour); ok {
		from := ""
		if start, m := stepStart(hour), atoiOr(min, 0); start > 0 || m > 0 {
			from = fmt.Sprintf(" from %02d:%02d", start, m)
		}
		if n == 1 {
			return "Every hour" + from
		}
		return fmt.Sprintf("Every %d hours%s", n, from)
	}

	if min == "*" && hour == "*" && dom == "*" && dow == "*" {
		return "Every minute"
	}

	m, mErr := strconv.Atoi(min)
	if hour == "*" && mErr == nil {
		if m == 0 {
			return "Every hour"
		}
		return fmt.Sprintf("Every hour at :%02d", m)
	}

	h, hErr := strconv.Atoi(hour)
	if hErr != nil || mErr != nil {
		return strings.Join(f, " ")
	}
	at := clock(h, m)

	if dow != "*" && dom == "*" {
		return weekdays(dow) + " at " + at
	}
	if n, ok := stepOf(dom); ok {
		return fmt.Sprintf("Every %d days at %s", n, at)
	}
	if dom != "*" {
		if d, err := strconv.Atoi(dom); err == nil {
			return fmt.Sprintf("Day %d of each month at %s", d, at)
		}
		return strings.Join(f, " ")
	}
	return "Daily at " + at
}

// stepOf parses the "/n" interval of a cron step expression.
func stepOf(field string) (int, bool) {
	i := strings.IndexByte(field, '/')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(field[i+1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// stepStart parses the range start of a step expression; "*" means zero.
func stepStart(field string) int {
	i := strings.IndexByte(field, '/')
	if i <= 0 || field[:i] == "*" {
		return 0
	}
	return atoiOr(field[:i], 0)
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// clock renders an hour and minute as 12-hour wall time.
func clock(hour, minute int) string {
	switch {
	case hour == 0 && minute == 0:
		return "midnight"
	case hour == 12 && minute == 0:
		return "noon"
	}

	suffix, h := "AM", hour
	switch {
	case hour == 0:
		h = 12
	case hour == 12:
		suffix = "PM"
	case hour > 12:
		h, suffix = hour-12, "PM"
	}

	if minute == 0 {
		return fmt.Sprintf("%d%s", h, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", h, minute, suffix)
}

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// weekdays renders a cron day-of-week field: a single day pluralizes
// ("Mondays"), ranges and lists name each day.
func weekdays(field string) string {
	if i := strings.IndexByte(field, '-'); i >= 0 {
		return dayName(field[:i]) + "-" + dayName(field[i+1:])
	}
	if strings.Contains(field, ",") {
		parts := strings.Split(field, ",")
		for i, p := range parts {
			parts[i] = dayName(p)
		}
		return strings.Join(parts, ", ")
	}
	return dayName(field) + "s"
}

func dayName(s string) string {
	if d, err := strconv.Atoi(s); err == nil && d >= 0 && d < len(weekdayNames) {
		return weekdayNames[d]
	}
	return s
}

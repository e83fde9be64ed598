// Package bytesize provides human-readable byte size parsing and formatting
// using binary (1024) units.
//
// Examples:
//   - "100KB" = 100 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "4096" = 4096 bytes (no unit = bytes)
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// Parse parses a human-readable byte size string. Units are case-insensitive
// and optional; integer and floating-point values are accepted.
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split the trailing unit from the numeric part.
	cut := len(s)
	for cut > 0 {
		c := s[cut-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		cut--
	}
	valueStr := strings.TrimSpace(s[:cut])
	unitStr := strings.ToLower(strings.TrimSpace(s[cut:]))

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q", valueStr)
	}

	mult, err := unitMultiplier(unitStr)
	if err != nil {
		return 0, err
	}
	return Size(value * float64(mult)), nil
}

func unitMultiplier(unit string) (Size, error) {
	switch unit {
	case "", "b", "byte", "bytes":
		return B, nil
	case "k", "kb", "kib":
		return KB, nil
	case "m", "mb", "mib":
		return MB, nil
	case "g", "gb", "gib":
		return GB, nil
	case "t", "tb", "tib":
		return TB, nil
	}
	return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format converts a byte size to a human-readable string using the largest
// unit that yields a value >= 1.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}
	neg := ""
	if s < 0 {
		neg, s = "-", -s
	}

	units := []struct {
		size Size
		name string
	}{{TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"}}

	for _, u := range units {
		if s >= u.size {
			v := float64(s) / float64(u.size)
			if v == float64(int64(v)) {
				return fmt.Sprintf("%s%d%s", neg, int64(v), u.name)
			}
			out := strconv.FormatFloat(v, 'f', 2, 64)
			out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
			return neg + out + u.name
		}
	}
	return fmt.Sprintf("%s%dB", neg, s)
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns the human-readable representation.
func (s Size) String() string {
	return Format(s)
}

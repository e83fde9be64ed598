package httpclient

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusCodeSet represents a set of acceptable HTTP status codes, supporting
// both individual codes and inclusive ranges. Sets are immutable once parsed,
// so sharing the pointer between configs is safe.
//
// Example formats:
//   - "200" - single code
//   - "200,404" - multiple codes
//   - "100-399" - range (inclusive)
//   - "200-299,404" - mixed ranges and codes
type StatusCodeSet struct {
	codes  map[int]struct{}
	ranges []statusCodeRange
}

type statusCodeRange struct {
	min, max int
}

// ParseStatusCodes parses a string like "100-399,429" into a StatusCodeSet.
// Returns nil for empty input.
func ParseStatusCodes(s string) (*StatusCodeSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	set := &StatusCodeSet{codes: make(map[int]struct{})}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.SplitN(part, "-", 2)
			min, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid range start %q: %w", rangeParts[0], err)
			}
			max, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid range end %q: %w", rangeParts[1], err)
			}
			if min > max {
				return nil, fmt.Errorf("invalid range %d-%d: min > max", min, max)
			}
			if min < 100 || max > 599 {
				return nil, fmt.Errorf("invalid HTTP status code range %d-%d: must be 100-599", min, max)
			}
			set.ranges = append(set.ranges, statusCodeRange{min: min, max: max})
		} else {
			code, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid status code %q: %w", part, err)
			}
			if code < 100 || code > 599 {
				return nil, fmt.Errorf("invalid HTTP status code %d: must be 100-599", code)
			}
			set.codes[code] = struct{}{}
		}
	}

	if len(set.codes) == 0 && len(set.ranges) == 0 {
		return nil, nil
	}
	return set, nil
}

// MustParseStatusCodes is like ParseStatusCodes but panics on error.
// Use only for compile-time constants.
func MustParseStatusCodes(s string) *StatusCodeSet {
	set, err := ParseStatusCodes(s)
	if err != nil {
		panic(err)
	}
	return set
}

// Contains returns true if the status code is in the set.
func (s *StatusCodeSet) Contains(code int) bool {
	if s == nil {
		return false
	}
	if _, ok := s.codes[code]; ok {
		return true
	}
	for _, r := range s.ranges {
		if code >= r.min && code <= r.max {
			return true
		}
	}
	return false
}

// IsEmpty returns true if the set has no codes or ranges.
func (s *StatusCodeSet) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.codes) == 0 && len(s.ranges) == 0
}

// String returns the set in the same format ParseStatusCodes accepts.
func (s *StatusCodeSet) String() string {
	if s.IsEmpty() {
		return ""
	}

	var parts []string
	for _, r := range s.ranges {
		if r.min == r.max {
			parts = append(parts, strconv.Itoa(r.min))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.min, r.max))
		}
	}
	for code := range s.codes {
		parts = append(parts, strconv.Itoa(code))
	}
	return strings.Join(parts, ",")
}

package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		// Standard Go format passes through.
		{"hours", "30h", 30 * time.Hour, false},
		{"minutes", "30m", 30 * time.Minute, false},
		{"seconds", "45s", 45 * time.Second, false},
		{"combined standard", "1h30m", 90 * time.Minute, false},
		{"milliseconds", "250ms", 250 * time.Millisecond, false},

		// Day component.
		{"days short", "30d", 30 * Day, false},
		{"day word", "1 day", Day, false},
		{"days word", "3 days", 3 * Day, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},

		// Week component.
		{"weeks short", "2w", 2 * Week, false},
		{"week word", "1 week", Week, false},
		{"wk abbrev", "2wks", 2 * Week, false},
		{"mixed extended", "1w2d12h", Week + 2*Day + 12*time.Hour, false},

		// Spelled-out standard units.
		{"hours word", "3 hours", 3 * time.Hour, false},
		{"minutes word", "30 minutes", 30 * time.Minute, false},
		{"seconds word", "10 secs", 10 * time.Second, false},

		// Negatives.
		{"negative days", "-2d", -2 * Day, false},
		{"negative standard", "-90m", -90 * time.Minute, false},

		// Errors.
		{"empty", "", 0, true},
		{"garbage", "soon", 0, true},
		{"unit only", "d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"day and hours", 36 * time.Hour, "1d12h"},
		{"weeks", 2 * Week, "2w"},
		{"mixed", Week + 2*Day + 12*time.Hour, "1w2d12h"},
		{"negative", -Day, "-1d"},
		{"sub-second", 250 * time.Millisecond, "250ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.input))
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, time.Hour, Day, Week + Day, 2*Week + 12*time.Hour} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("never") })
	assert.Equal(t, 2*Week, MustParse("2w"))
}

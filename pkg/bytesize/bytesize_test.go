package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Size
		wantErr  bool
	}{
		{"bytes numeric only", "4096", 4096, false},
		{"bytes with B", "1024B", 1024, false},
		{"kilobytes", "100KB", 100 * KB, false},
		{"kilobytes short", "100K", 100 * KB, false},
		{"kilobytes binary suffix", "100KiB", 100 * KB, false},
		{"kilobytes with space", "100 KB", 100 * KB, false},
		{"megabytes", "10MB", 10 * MB, false},
		{"gigabytes", "2GB", 2 * GB, false},
		{"terabytes", "1TB", 1 * TB, false},
		{"float megabytes", "1.5MB", Size(1.5 * float64(MB)), false},
		{"lowercase", "5mb", 5 * MB, false},
		{"surrounding whitespace", "  10KB  ", 10 * KB, false},

		{"empty", "", 0, true},
		{"unit only", "MB", 0, true},
		{"unknown unit", "5XB", 0, true},
		{"garbage", "abc", 0, true},
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
		input    Size
		expected string
	}{
		{"zero", 0, "0B"},
		{"bytes", 512, "512B"},
		{"exact kilobytes", 100 * KB, "100KB"},
		{"exact megabytes", 3 * MB, "3MB"},
		{"fractional", Size(1.5 * float64(GB)), "1.5GB"},
		{"negative", -2 * MB, "-2MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.input))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []Size{1, KB, 100 * KB, MB, 3 * GB, TB} {
		parsed, err := Parse(Format(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("not a size") })
	assert.Equal(t, 100*KB, MustParse("100KB"))
}

func TestSizeAccessors(t *testing.T) {
	s := 2 * MB
	assert.Equal(t, int64(2*1024*1024), s.Bytes())
	assert.Equal(t, "2MB", s.String())
}

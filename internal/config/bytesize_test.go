package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSize_UnmarshalText(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"100KB", 100 * 1024, false},
		{"1.5MB", ByteSize(1.5 * 1024 * 1024), false},
		{"2 GB", 2 * 1024 * 1024 * 1024, false},
		{"4096", 4096, false},
		{"0", 0, false},
		{"a lot", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var b ByteSize
			err := b.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	t.Run("quoted size string", func(t *testing.T) {
		var b ByteSize
		require.NoError(t, json.Unmarshal([]byte(`"100KB"`), &b))
		assert.Equal(t, ByteSize(100*1024), b)
	})

	t.Run("bare byte count", func(t *testing.T) {
		var b ByteSize
		require.NoError(t, json.Unmarshal([]byte(`102400`), &b))
		assert.Equal(t, ByteSize(102400), b)
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		var b ByteSize
		assert.Error(t, json.Unmarshal([]byte(`{"size": 1}`), &b))
	})
}

func TestByteSize_Accessors(t *testing.T) {
	b := ByteSize(100 * 1024)
	assert.Equal(t, int64(102400), b.Bytes())
	assert.Equal(t, "100KB", b.String())
	assert.Equal(t, "0B", ByteSize(0).String())
}

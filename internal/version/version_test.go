package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stamp overrides the linker-injected values for the duration of a test.
func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	origV, origC, origD := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origV, origC, origD })
	Version, Commit, Date = version, commit, date
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	t.Run("dev build", func(t *testing.T) {
		stamp(t, "dev", "unknown", "unknown")
		s := String()
		assert.Contains(t, s, ApplicationName)
		assert.Contains(t, s, "version dev")
		assert.NotContains(t, s, "commit:")
	})

	t.Run("stamped build", func(t *testing.T) {
		stamp(t, "1.4.0", "f00dcafebeef1234", "2026-02-01T08:00:00Z")
		s := String()
		assert.Contains(t, s, "1.4.0")
		assert.Contains(t, s, "commit: f00dcafe")
		assert.Contains(t, s, "2026-02-01")
	})
}

func TestShort(t *testing.T) {
	stamp(t, "1.4.0", "f00dcafebeef1234", "unknown")
	assert.Equal(t, "heygemd 1.4.0 (f00dcafe)", Short())

	stamp(t, "dev", "unknown", "unknown")
	assert.Equal(t, "heygemd dev", Short())
}

func TestJSON(t *testing.T) {
	stamp(t, "1.4.0", "f00dcafebeef1234", "2026-02-01T08:00:00Z")

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "f00dcafebeef1234", info.Commit)
	assert.Equal(t, "2026-02-01T08:00:00Z", info.Date)
}

func TestUserAgent(t *testing.T) {
	stamp(t, "1.4.0", "unknown", "unknown")
	assert.Equal(t, "heygemd/1.4.0", UserAgent())
}

func TestSnapshotDetection(t *testing.T) {
	tests := []struct {
		version  string
		snapshot bool
	}{
		{"dev", true},
		{"1.4.1-SNAPSHOT.f00dcaf", true},
		{"1.4.0", false},
		{"1.4.0-rc.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			stamp(t, tt.version, "unknown", "unknown")
			assert.Equal(t, tt.snapshot, IsSnapshot())
			assert.Equal(t, !tt.snapshot, IsRelease())
		})
	}
}

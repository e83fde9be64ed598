package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary drops an executable (or not) file into a temp dir and returns
// its path.
func fakeBinary(t *testing.T, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), mode))
	return p
}

func TestFindBinary_EnvOverride(t *testing.T) {
	p := fakeBinary(t, 0o755)
	t.Setenv("FAKE_TOOL_PATH", p)

	// The override wins even for a name that resolves on PATH.
	got, err := FindBinary("sh", "FAKE_TOOL_PATH")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestFindBinary_PathLookup(t *testing.T) {
	got, err := FindBinary("sh", "")
	require.NoError(t, err)
	assert.Contains(t, got, "sh")
}

func TestFindBinary_NotFound(t *testing.T) {
	got, err := FindBinary("no-such-tool-470f1", "")
	assert.Error(t, err)
	assert.Empty(t, got)
	assert.Contains(t, err.Error(), "not found")
}

func TestFindBinary_RejectsBadOverrides(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "absent")
		}},
		{"not executable", func(t *testing.T) string {
			return fakeBinary(t, 0o644)
		}},
		{"directory", func(t *testing.T) string {
			return t.TempDir()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			override := tt.setup(t)
			t.Setenv("FAKE_TOOL_PATH", override)

			// A rejected override falls through to the PATH lookup.
			got, err := FindBinary("sh", "FAKE_TOOL_PATH")
			require.NoError(t, err)
			assert.NotEqual(t, override, got)
		})
	}
}

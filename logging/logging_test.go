package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			_, err := New(Config{Level: level})
			assert.NoError(t, err)
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad level", cfg: Config{Level: "verbose"}},
		{name: "bad format", cfg: Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(Config{Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestRunLogAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	rl, err := OpenRunLog(path)
	require.NoError(t, err)
	assert.Equal(t, path, rl.Path())
	rl.Event("stage %s started", "infra-provision")
	require.NoError(t, rl.Close())

	rl, err = OpenRunLog(path)
	require.NoError(t, err)
	rl.Event("stage %s succeeded", "infra-provision")
	require.NoError(t, rl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "reopening must append, not truncate")
	assert.Contains(t, lines[0], "stage infra-provision started")
	assert.Contains(t, lines[1], "stage infra-provision succeeded")
}

func TestCaptureHandlerRecordsThroughWithChains(t *testing.T) {
	h := NewCaptureHandler(nil)
	logger := slog.New(h).With("component", "netutil")

	logger.Warn("target not reachable", "attempts", 3)

	entries := h.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, slog.LevelWarn, entries[0].Level)
	assert.Equal(t, "target not reachable", entries[0].Message)
	assert.Equal(t, "netutil", entries[0].Attrs["component"])
	assert.Equal(t, int64(3), entries[0].Attrs["attempts"])
	assert.True(t, h.HasMessage("target not reachable"))
	assert.False(t, h.HasMessage("never logged"))
}

func TestCaptureHandlerResolvesErrors(t *testing.T) {
	h := NewCaptureHandler(nil)
	logger := slog.New(h)

	logger.Error("stage failed", "error", os.ErrNotExist)

	entries := h.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, os.ErrNotExist.Error(), entries[0].Attrs["error"])
}

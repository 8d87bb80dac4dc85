package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestModuleLoggerFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("localization")

	log.Info("solve finished",
		Int("iterations", 14),
		Float64("residual", 0.12345),
		Bool("converged", true),
		Duration("elapsed", 1500*time.Microsecond),
		Error(errors.New("boom")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "solve finished", entry["msg"])
	assert.Equal(t, "localization", entry["module"])
	assert.InDelta(t, 14, entry["iterations"], 0)
	assert.InDelta(t, 0.123, entry["residual"], 1e-12)
	assert.Equal(t, true, entry["converged"])
	assert.Equal(t, "2ms", entry["elapsed"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level LogLevel
		want  int
	}{
		{"trace", LogLevelTrace, 5},
		{"debug", LogLevelDebug, 4},
		{"info", LogLevelInfo, 3},
		{"warn", LogLevelWarn, 2},
		{"error", LogLevelError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := NewSlogLogger(buf, tt.level, nil)
			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")
			assert.Len(t, decodeLines(t, buf), tt.want)
		})
	}
}

func TestTraceLevelName(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	NewSlogLogger(buf, LogLevelTrace, nil).Log(LogLevelTrace, "deep")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "TRACE", lines[0]["level"])
}

func TestNestedModulesAndWith(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, nil).Module("training")
	child := base.Module("nucleation").With(Int("iteration", 3))

	child.Info("added bubbles", Int("count", 12))
	base.Info("parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "training.nucleation", lines[0]["module"])
	assert.InDelta(t, 3, lines[0]["iteration"], 0)
	assert.Equal(t, "training", lines[1]["module"])
	assert.NotContains(t, lines[1], "iteration")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, nil)

	log.WithContext(WithTraceID(context.Background(), "run-42")).Info("with trace")
	log.WithContext(context.Background()).Info("without trace")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "run-42", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "bubblenet.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "warn"},
	})
	require.NoError(t, err)

	cl.Module("localization").Debug("kept")
	cl.Module("datastore").Info("dropped")
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())
}

func TestNewCentralLoggerRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)

	_, err = NewCentralLogger(&LoggingConfig{Timezone: "Not/AZone"})
	require.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)

	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	require.NotNil(t, cfg.Console)
	assert.True(t, cfg.Console.Enabled)
	require.NotNil(t, cfg.FileOutput)
	assert.False(t, cfg.FileOutput.Enabled)
	assert.Equal(t, DefaultLogPath, cfg.FileOutput.Path)
	assert.NotNil(t, cfg.ModuleLevels)
}

func TestGormAdapterTrace(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelTrace, nil), time.Hour)

	adapter.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	adapter.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "INSERT bad", 0
	}, errors.New("constraint"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "statement", lines[0]["msg"])
	assert.Equal(t, "TRACE", lines[0]["level"])
	assert.Equal(t, "statement failed", lines[1]["msg"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "constraint", lines[1]["error"])
}

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/buildinfo"
	"github.com/bubblelab/bubblenet/internal/conf"
	"github.com/bubblelab/bubblenet/internal/localization"
)

// execute runs the CLI with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx := conf.NewContext(buildinfo.NewContext("v0.9.0", "2026-10-01"))
	root := RootCommand(ctx)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func defaultGeometry(t *testing.T) *localization.Geometry {
	t.Helper()
	l := conf.DefaultSettings().Localization
	g, err := localization.NewGeometry(l.SensorPoints(), l.Speed)
	require.NoError(t, err)
	return g
}

func formatTimings(v []float64) []string {
	out := make([]string, len(v))
	for i, x := range v {
		out[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return out
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "bubblenet v0.9.0 (built 2026-10-01)\n", out)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "init refuses to overwrite")

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestLocalizeSingleObservation(t *testing.T) {
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "bubblenet.prom")
	timings := defaultGeometry(t).RelativeTimings(localization.Point{1, -1, 0})

	args := append([]string{"localize", "--metrics-file", metricsFile}, formatTimings(timings)...)
	out, err := execute(t, args...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RESIDUAL")
	fields := strings.Fields(lines[1])
	x, err := strconv.ParseFloat(fields[0], 64)
	require.NoError(t, err)
	y, err := strconv.ParseFloat(fields[1], 64)
	require.NoError(t, err)
	assert.InDelta(t, 1, x, 1e-3)
	assert.InDelta(t, -1, y, 1e-3)
	assert.Equal(t, "yes", fields[len(fields)-1])

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bubblenet_localization")
}

func TestLocalizeArgumentErrors(t *testing.T) {
	_, err := execute(t, "localize")
	require.Error(t, err)

	_, err = execute(t, "localize", "0", "x", "1", "2")
	require.Error(t, err)

	_, err = execute(t, "localize", "--events", "0")
	require.Error(t, err)
}

func TestConvertThenLocalizeEvents(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BUBBLENET_DATASET_STORE_DSN", filepath.Join(dir, "events.db"))

	g := defaultGeometry(t)
	var table strings.Builder
	table.WriteString("PICO events\nrun ev runtype X Y Z AP piezo_t0(4)\n%d %d %d %f %f %f %f %e %e %e %e\n")
	for i, p := range []localization.Point{{0, 0, 0}, {1, -1, 0}, {-0.5, 2, 0}} {
		t0 := g.TimesOfFlight(p)
		fmt.Fprintf(&table, "20170623 %d 1 %g %g %g 1.2 %g %g %g %g\n", i+1, p[0], p[1], p[2], t0[0], t0[1], t0[2], t0[3])
	}
	input := filepath.Join(dir, "events.txt")
	require.NoError(t, os.WriteFile(input, []byte(table.String()), 0o644))

	out, err := execute(t, "convert", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 events")

	out, err = execute(t, "localize", "--events")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "RUN"))
	assert.True(t, strings.HasPrefix(lines[2], "20170623"))
}

func TestPlotPerformanceDefaultStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.png")
	out, err := execute(t, "plot", "performance", "-o", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
	assert.FileExists(t, path)
}

package plot

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/errors"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func requirePNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", path)
}

func TestFillBins(t *testing.T) {
	t.Parallel()

	values := []float64{0, 0.1, 0.49, 0.5, 1}
	lo, width := binEdges(values, 2)
	assert.InDelta(t, 0.0, lo, 1e-12)
	assert.InDelta(t, 0.5, width, 1e-12)

	bins := fillBins(values, lo, width, 2)
	require.Len(t, bins, 2)
	assert.InDelta(t, 3.0, bins[0].Weight, 1e-12)
	assert.InDelta(t, 2.0, bins[1].Weight, 1e-12, "the maximum lands in the last bin")
	assert.InDelta(t, 1.0, bins[1].Max, 1e-12)
}

func TestBinEdgesConstantValues(t *testing.T) {
	t.Parallel()

	lo, width := binEdges([]float64{0.3, 0.3}, 4)
	assert.InDelta(t, -0.2, lo, 1e-12)
	assert.InDelta(t, 0.25, width, 1e-12)
}

func TestSplitByTruth(t *testing.T) {
	t.Parallel()

	pos, neg := splitByTruth([]float64{1, 0, 1, 0}, []float64{0.9, 0.2, 0.7, 0.4})
	assert.Equal(t, []float64{0.9, 0.7}, pos)
	assert.Equal(t, []float64{0.2, 0.4}, neg)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []float64
		want   classSummary
	}{
		{"empty", nil, classSummary{}},
		{"single", []float64{0.7}, classSummary{Count: 1, Mean: 0.7}},
		{"pair", []float64{0.2, 0.4}, classSummary{Count: 2, Mean: 0.3, StdDev: math.Sqrt(0.02)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := summarize(tt.values)
			assert.Equal(t, tt.want.Count, got.Count)
			assert.InDelta(t, tt.want.Mean, got.Mean, 1e-12)
			assert.InDelta(t, tt.want.StdDev, got.StdDev, 1e-12)
		})
	}
}

func TestHistogramWritesPNG(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plots", "hist.png")
	truths := []float64{1, 1, 1, 0, 0, 0}
	outputs := []float64{0.95, 0.81, 0.66, 0.05, 0.2, 0.41}
	require.NoError(t, Histogram(truths, outputs, path, HistogramOptions{Title: "epoch 3"}))
	requirePNG(t, path)
}

func TestHistogramErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		truths   []float64
		outputs  []float64
		category errors.ErrorCategory
	}{
		{"empty", nil, nil, errors.CategoryPlotting},
		{"length mismatch", []float64{1}, []float64{0.2, 0.3}, errors.CategoryValidation},
		{"nan output", []float64{1}, []float64{math.NaN()}, errors.CategoryPlotting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Histogram(tt.truths, tt.outputs, filepath.Join(t.TempDir(), "h.png"), HistogramOptions{})
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestErrorExtents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		m         Measurement
		low, high float64
	}{
		{"no bounds", Measurement{Mean: 0.996}, 0, 0},
		{"both bounds", Measurement{Mean: 0.9, Lower: bound(0.85), Upper: bound(0.95)}, 5, 5},
		{"upper only", Measurement{Mean: 0.9, Upper: bound(1)}, 0, 10},
		{"degenerate", Measurement{Mean: 1, Lower: bound(1), Upper: bound(1)}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			low, high := errorExtents(tt.m)
			assert.InDelta(t, tt.low, low, 1e-9)
			assert.InDelta(t, tt.high, high, 1e-9)
		})
	}
}

func TestSeriesOffset(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, -0.2, seriesOffset(0, 2), 1e-12)
	assert.InDelta(t, 0.2, seriesOffset(1, 2), 1e-12)
	assert.InDelta(t, 0.0, seriesOffset(0, 1), 1e-12)
}

func TestDefaultPerformanceStatsValid(t *testing.T) {
	t.Parallel()

	stats := DefaultPerformanceStats()
	require.NoError(t, stats.Validate())
	assert.Len(t, stats.Configurations, 6)
	require.Len(t, stats.Series, 2)
	assert.Nil(t, stats.Series[0].Values[0].Lower, "conventional cut has no interval")
}

func TestPerformanceWritesPNG(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "performance.png")
	require.NoError(t, Performance(DefaultPerformanceStats(), path, PerformanceOptions{}))
	requirePNG(t, path)
}

func TestLoadPerformanceStats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "stats.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`configurations: [Cut, Network]
series:
  - label: Alpha removal
    values:
      - mean: 0.99
      - mean: 0.97
        lower: 0.95
        upper: 0.99
`), 0o644))

	stats, err := LoadPerformanceStats(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cut", "Network"}, stats.Configurations)
	require.Len(t, stats.Series, 1)
	require.NotNil(t, stats.Series[0].Values[1].Upper)
	assert.InDelta(t, 0.99, *stats.Series[0].Values[1].Upper, 1e-12)

	short := filepath.Join(dir, "short.yaml")
	require.NoError(t, os.WriteFile(short, []byte("configurations: [A, B]\nseries:\n  - label: x\n    values: [{mean: 1}]\n"), 0o644))
	_, err = LoadPerformanceStats(short)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "got %v", err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("configurations: [A\n"), 0o644))
	_, err = LoadPerformanceStats(broken)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing), "got %v", err)

	_, err = LoadPerformanceStats(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO), "got %v", err)
}

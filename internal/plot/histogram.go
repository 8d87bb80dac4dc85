// Package plot renders the validation histograms and the performance
// comparison chart as PNG files.
package plot

import (
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	gonum "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// DefaultBins is the histogram bin count used when none is configured.
const DefaultBins = 20

var (
	positiveColor = color.NRGBA{R: 31, G: 119, B: 180, A: 160}
	negativeColor = color.NRGBA{R: 255, G: 127, B: 14, A: 160}
)

// GetLogger returns the plot module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("plot")
}

// HistogramOptions configure Histogram.
type HistogramOptions struct {
	Bins          int
	PositiveLabel string // ground truth 1
	NegativeLabel string // ground truth 0
	Title         string
}

func (o HistogramOptions) withDefaults() HistogramOptions {
	if o.Bins <= 0 {
		o.Bins = DefaultBins
	}
	if o.PositiveLabel == "" {
		o.PositiveLabel = "Alpha"
	}
	if o.NegativeLabel == "" {
		o.NegativeLabel = "Neutron"
	}
	return o
}

func plotErr(format string, args ...any) *errors.ErrorBuilder {
	return errors.Newf(format, args...).
		Component("plot").
		Category(errors.CategoryPlotting)
}

// binEdges splits the range of values into n equal bins. A zero-width
// range is widened to one unit centred on the value.
func binEdges(values []float64, n int) (lo, width float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		lo -= 0.5
		hi += 0.5
	}
	return lo, (hi - lo) / float64(n)
}

// fillBins counts values into n bins starting at lo. The maximum lands in
// the last bin.
func fillBins(values []float64, lo, width float64, n int) []plotter.HistogramBin {
	bins := make([]plotter.HistogramBin, n)
	for i := range bins {
		bins[i].Min = lo + float64(i)*width
		bins[i].Max = lo + float64(i+1)*width
	}
	for _, v := range values {
		i := int((v - lo) / width)
		i = max(0, min(i, n-1))
		bins[i].Weight++
	}
	return bins
}

// splitByTruth separates outputs whose ground truth is at least 0.5 from
// the rest.
func splitByTruth(groundTruths, outputs []float64) (positive, negative []float64) {
	for i, out := range outputs {
		if groundTruths[i] >= 0.5 {
			positive = append(positive, out)
		} else {
			negative = append(negative, out)
		}
	}
	return positive, negative
}

// classSummary is the spread of the outputs of one ground-truth class.
type classSummary struct {
	Count  int
	Mean   float64
	StdDev float64
}

func summarize(values []float64) classSummary {
	s := classSummary{Count: len(values)}
	switch len(values) {
	case 0:
	case 1:
		s.Mean = values[0]
	default:
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	}
	return s
}

// Histogram writes a PNG histogram of the network outputs, one series per
// ground-truth class, sharing the same bins.
func Histogram(groundTruths, outputs []float64, path string, opts HistogramOptions) error {
	opts = opts.withDefaults()
	if len(outputs) == 0 {
		return plotErr("no outputs to plot").Context("path", path).Build()
	}
	if len(groundTruths) != len(outputs) {
		return plotErr("%d ground truths but %d outputs", len(groundTruths), len(outputs)).
			Category(errors.CategoryValidation).
			Build()
	}
	for i, v := range outputs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return plotErr("output %d is not finite", i).Context("value", v).Build()
		}
	}

	lo, width := binEdges(outputs, opts.Bins)
	positive, negative := splitByTruth(groundTruths, outputs)

	p := gonum.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "Network prediction"
	p.Y.Label.Text = "Validation event count"
	p.Legend.Top = true

	for _, series := range []struct {
		label  string
		values []float64
		fill   color.Color
	}{
		{opts.PositiveLabel, positive, positiveColor},
		{opts.NegativeLabel, negative, negativeColor},
	} {
		h := &plotter.Histogram{
			Bins:      fillBins(series.values, lo, width, opts.Bins),
			Width:     width,
			FillColor: series.fill,
			LineStyle: plotter.DefaultLineStyle,
		}
		p.Add(h)
		p.Legend.Add(series.label, h)
	}

	if err := save(p, 8*vg.Inch, 6*vg.Inch, path); err != nil {
		return err
	}
	pos, neg := summarize(positive), summarize(negative)
	GetLogger().Info("histogram saved",
		logger.String("path", path),
		logger.Int("positive", pos.Count),
		logger.Float64("positive_mean", pos.Mean),
		logger.Float64("positive_stddev", pos.StdDev),
		logger.Int("negative", neg.Count),
		logger.Float64("negative_mean", neg.Mean),
		logger.Float64("negative_stddev", neg.StdDev))
	return nil
}

func save(p *gonum.Plot, w, h vg.Length, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(err, dir)
		}
	}
	if err := p.Save(w, h, path); err != nil {
		return errors.New(err).
			Component("plot").
			Category(errors.CategoryPlotting).
			FileContext(path, 0).
			Build()
	}
	return nil
}

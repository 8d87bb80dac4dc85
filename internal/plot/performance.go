package plot

import (
	"image/color"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	gonum "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// Measurement is a removal fraction with optional lower and upper bounds.
type Measurement struct {
	Mean  float64  `yaml:"mean"`
	Lower *float64 `yaml:"lower,omitempty"`
	Upper *float64 `yaml:"upper,omitempty"`
}

// Series is one bar colour across every configuration.
type Series struct {
	Label  string        `yaml:"label"`
	Values []Measurement `yaml:"values"`
}

// PerformanceStats compare background removal across configurations.
type PerformanceStats struct {
	Configurations []string `yaml:"configurations"`
	Series         []Series `yaml:"series"`
}

// PerformanceOptions configure Performance.
type PerformanceOptions struct {
	Title string
	YMin  float64 // percent
	YMax  float64 // percent
}

func (o PerformanceOptions) withDefaults() PerformanceOptions {
	if o.YMin == 0 && o.YMax == 0 {
		o.YMin, o.YMax = 60, 100
	}
	return o
}

const (
	barGroupWidth = 0.8
	barWidth      = 14 * vg.Length(1)
)

var seriesColors = []color.Color{
	color.NRGBA{R: 31, G: 119, B: 180, A: 255},
	color.NRGBA{R: 255, G: 127, B: 14, A: 255},
	color.NRGBA{R: 44, G: 160, B: 44, A: 255},
	color.NRGBA{R: 214, G: 39, B: 40, A: 255},
}

func bound(v float64) *float64 { return &v }

// DefaultPerformanceStats returns the published comparison of the
// conventional acoustic parameter cut against the network variants.
func DefaultPerformanceStats() PerformanceStats {
	return PerformanceStats{
		Configurations: []string{
			"Conventional",
			"Dense NN",
			"Cylindrical Proj.",
			"Topological CNN",
			"Cylindrical Test (Sim)",
			"Cylindrical CNN Test (Real, Background May Include WIMPs)",
		},
		Series: []Series{
			{
				Label: "Alpha/Background Removal",
				Values: []Measurement{
					{Mean: 0.996},
					{Mean: 1, Lower: bound(1), Upper: bound(1)},
					{Mean: 0.9986762886158047, Lower: bound(0.996774193548387), Upper: bound(1.0)},
					{Mean: 0.9985087719298246, Lower: bound(0.9921052631578948), Upper: bound(1.0)},
					{Mean: 0.9959030977982591, Lower: bound(0.9914285714285715), Upper: bound(1.0)},
					{Mean: 0.9120370370370369, Lower: bound(0.8888888888888888), Upper: bound(0.9333333333333333)},
				},
			},
			{
				Label: "WIMP Removal",
				Values: []Measurement{
					{Mean: 0.91},
					{Mean: 1, Lower: bound(1), Upper: bound(1)},
					{Mean: 0.7672341098533079, Lower: bound(0.74375), Upper: bound(0.79915611814346)},
					{Mean: 0.9301859015688803, Lower: bound(0.6060606060606061), Upper: bound(1.0)},
					{Mean: 0.75745328295003, Lower: bound(0.7313432835820896), Upper: bound(0.7927631578947368)},
					{Mean: 0.7388888888888889, Lower: bound(0.7000000000000001), Upper: bound(0.775)},
				},
			},
		},
	}
}

// LoadPerformanceStats reads statistics from a YAML file.
func LoadPerformanceStats(path string) (PerformanceStats, error) {
	var stats PerformanceStats
	data, err := os.ReadFile(path)
	if err != nil {
		return stats, errors.FileError(err, path)
	}
	if err := yaml.Unmarshal(data, &stats); err != nil {
		return stats, errors.New(err).
			Component("plot").
			Category(errors.CategoryFileParsing).
			FileContext(path, 0).
			Build()
	}
	if err := stats.Validate(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Validate checks that every series has one finite value per configuration.
func (s PerformanceStats) Validate() error {
	if len(s.Configurations) == 0 || len(s.Series) == 0 {
		return plotErr("performance statistics need configurations and series").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, series := range s.Series {
		if len(series.Values) != len(s.Configurations) {
			return plotErr("series %q has %d values for %d configurations",
				series.Label, len(series.Values), len(s.Configurations)).
				Category(errors.CategoryValidation).
				Build()
		}
		for i, m := range series.Values {
			if math.IsNaN(m.Mean) || math.IsInf(m.Mean, 0) {
				return plotErr("series %q value %d is not finite", series.Label, i).
					Category(errors.CategoryValidation).
					Build()
			}
		}
	}
	return nil
}

// errorExtents converts absolute bounds into distances below and above the
// mean, in percent. A missing bound draws no bar on that side.
func errorExtents(m Measurement) (low, high float64) {
	if m.Lower != nil {
		low = math.Abs(*m.Lower-m.Mean) * 100
	}
	if m.Upper != nil {
		high = math.Abs(*m.Upper-m.Mean) * 100
	}
	return low, high
}

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// seriesOffset is the x offset of series i within a group of n.
func seriesOffset(i, n int) float64 {
	step := barGroupWidth / float64(n)
	return -barGroupWidth/2 + step*(float64(i)+0.5)
}

// Performance writes a grouped bar chart of removal percentages with
// asymmetric error bars.
func Performance(stats PerformanceStats, path string, opts PerformanceOptions) error {
	opts = opts.withDefaults()
	if err := stats.Validate(); err != nil {
		return err
	}

	p := gonum.New()
	p.Title.Text = opts.Title
	p.Y.Label.Text = "Removal (%)"
	p.Legend.Left = true
	p.Legend.Top = false

	for i, series := range stats.Series {
		values := make(plotter.Values, len(series.Values))
		points := errorPoints{
			XYs:     make(plotter.XYs, len(series.Values)),
			YErrors: make(plotter.YErrors, len(series.Values)),
		}
		offset := seriesOffset(i, len(stats.Series))
		for j, m := range series.Values {
			values[j] = m.Mean * 100
			points.XYs[j] = plotter.XY{X: float64(j) + offset, Y: values[j]}
			points.YErrors[j].Low, points.YErrors[j].High = errorExtents(m)
		}

		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return plotErr("bar chart for %q: %v", series.Label, err).Build()
		}
		bars.XMin = offset
		bars.Color = seriesColors[i%len(seriesColors)]
		bars.LineStyle.Width = 0

		errBars, err := plotter.NewYErrorBars(points)
		if err != nil {
			return plotErr("error bars for %q: %v", series.Label, err).Build()
		}
		p.Add(bars, errBars)
		p.Legend.Add(series.Label, bars)
	}

	ticks := make(gonum.ConstantTicks, len(stats.Configurations))
	for i, name := range stats.Configurations {
		ticks[i] = gonum.Tick{Value: float64(i), Label: name}
	}
	p.X.Tick.Marker = ticks
	p.X.Min = -0.5
	p.X.Max = float64(len(stats.Configurations)) - 0.5
	p.Y.Min, p.Y.Max = opts.YMin, opts.YMax

	if err := save(p, 6*vg.Inch, 4*vg.Inch, path); err != nil {
		return err
	}
	GetLogger().Info("performance chart saved",
		logger.String("path", path),
		logger.Int("configurations", len(stats.Configurations)),
		logger.Int("series", len(stats.Series)))
	return nil
}

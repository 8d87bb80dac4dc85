// Package conf loads bubblenet configuration from YAML files and environment
// variables.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/localization"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. BUBBLENET_LOCALIZATION_SPEED.
const EnvPrefix = "BUBBLENET"

// LocalizationSettings configure the acoustic position solver.
type LocalizationSettings struct {
	Sensors           [][]float64 // piezo positions, one [x, y, z] per sensor
	Speed             float64     // propagation speed in position units per time unit
	InitialGuess      []float64   // starting point, origin when empty
	MaxIterations     int
	MaxEvaluations    int // zero means 20 × MaxIterations
	ResidualTolerance float64
	GradientTolerance float64
	StallTolerance    float64
	Workers           int // batch concurrency, zero uses GOMAXPROCS
}

// StoreSettings select the event store backend.
type StoreSettings struct {
	Driver    string        // sqlite or mysql
	DSN       string        // file path for sqlite, DSN for mysql
	BatchSize int           // rows per insert batch
	SlowQuery time.Duration // statements slower than this are logged as warnings
}

// DatasetSettings configure event loading, cuts and splitting.
type DatasetSettings struct {
	Input                 string // descriptor text file
	Store                 StoreSettings
	Mapping               events.Mapping
	KeepRunTypes          []string
	FilterMultipleBubbles bool
	FiducialCuts          bool
	WallCuts              bool
	Cuts                  events.Cuts
	ValidationFraction    float64
	Seed                  uint64
}

// AudioSettings configure piezo recording access.
type AudioSettings struct {
	Directory      string        // prefix for relative audio paths
	CacheTTL       time.Duration // how long decoded recordings stay cached
	Bands          int           // frequency bands per channel
	WaveformLength int           // samples per channel fed to the waveform network
}

// PositionTraining configures the time-zero position regression.
type PositionTraining struct {
	Epochs int
}

// GravitationalTraining configures the partially labelled training loop.
type GravitationalTraining struct {
	Epochs             int
	DefinitiveExamples int
}

// NucleationTraining configures iterative cluster nucleation.
type NucleationTraining struct {
	Iterations         int
	ThresholdDistance  float64
	AlphaMinAP         float64 // low-background events need AP at or above this
	NeutronMaxAP       float64 // calibration events need AP at or below this
	StorageSize        int
	ReplacedPerBatch   int
	StepsPerIteration  int
	AlphaClassWeight   float64
	NeutronClassWeight float64
}

// SupervisedTraining configures the plain supervised classifiers.
type SupervisedTraining struct {
	Epochs int
}

// TrainingSettings configure the training loops.
type TrainingSettings struct {
	ResultsDir    string
	Seed          uint64
	BatchSize     int
	Position      PositionTraining
	Gravitational GravitationalTraining
	Nucleation    NucleationTraining
	Supervised    SupervisedTraining
}

// PlotSettings configure rendered figures.
type PlotSettings struct {
	OutputDir     string
	Bins          int
	PositiveLabel string // legend label for ground truth 1
	NegativeLabel string // legend label for ground truth 0
}

// TelemetrySettings configure error reporting.
type TelemetrySettings struct {
	SentryDSN string
}

// MetricsSettings configure Prometheus output.
type MetricsSettings struct {
	TextfilePath string // written after each command when set
}

// Settings is the root configuration.
type Settings struct {
	Debug        bool
	Localization LocalizationSettings
	Dataset      DatasetSettings
	Audio        AudioSettings
	Training     TrainingSettings
	Plot         PlotSettings
	Logging      logger.LoggingConfig
	Telemetry    TelemetrySettings
	Metrics      MetricsSettings
}

// Load reads configFile, or config.yaml from the default search paths when
// configFile is empty, applies BUBBLENET_* environment overrides and
// validates the result. A missing default config file is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("reading config: %w", err)).
				Component("config").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
		GetLogger().Debug("no config file found, using defaults")
	} else {
		GetLogger().Debug("loaded config file", logger.String("path", v.ConfigFileUsed()))
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("decoding config: %w", err)).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bubblenet"))
	}
	return append(paths, "/etc/bubblenet")
}

// SensorPoints converts the configured sensor positions.
func (l *LocalizationSettings) SensorPoints() []localization.Point {
	points := make([]localization.Point, len(l.Sensors))
	for i, s := range l.Sensors {
		copy(points[i][:], s)
	}
	return points
}

// SolverOptions converts the configured solver bounds.
func (l *LocalizationSettings) SolverOptions() localization.Options {
	opts := localization.Options{
		MaxIterations:     l.MaxIterations,
		MaxEvaluations:    l.MaxEvaluations,
		ResidualTolerance: l.ResidualTolerance,
		GradientTolerance: l.GradientTolerance,
		StallTolerance:    l.StallTolerance,
	}
	copy(opts.InitialGuess[:], l.InitialGuess)
	return opts
}

// DataSetOptions converts the dataset section. Run type names are checked by
// ValidateSettings.
func (d *DatasetSettings) DataSetOptions() (events.Options, error) {
	keep, err := events.ParseRunTypes(d.KeepRunTypes)
	if err != nil {
		return events.Options{}, err
	}
	return events.Options{
		KeepRunTypes:          keep,
		FilterMultipleBubbles: d.FilterMultipleBubbles,
		UseFiducialCuts:       d.FiducialCuts,
		UseWallCuts:           d.WallCuts,
		Cuts:                  d.Cuts,
		ValidationFraction:    d.ValidationFraction,
		Seed:                  d.Seed,
	}, nil
}

// conf/validate.go

package conf

import (
	"fmt"
	"math"
	"strings"

	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateLocalizationSettings(&settings.Localization)...)
	ve.Errors = append(ve.Errors, validateDatasetSettings(&settings.Dataset)...)
	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateTrainingSettings(&settings.Training)...)
	ve.Errors = append(ve.Errors, validatePlotSettings(&settings.Plot)...)
	ve.Errors = append(ve.Errors, validateLoggingSettings(&settings.Logging)...)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validateLocalizationSettings(s *LocalizationSettings) []string {
	var errs []string

	// geometry degeneracy is checked when the solver is built
	if len(s.Sensors) < 2 {
		errs = append(errs, fmt.Sprintf("localization.sensors needs at least 2 sensors, got %d", len(s.Sensors)))
	}
	for i, sensor := range s.Sensors {
		if len(sensor) != 3 {
			errs = append(errs, fmt.Sprintf("localization.sensors[%d] must have 3 coordinates, got %d", i, len(sensor)))
		}
	}
	if s.Speed <= 0 || !finite(s.Speed) {
		errs = append(errs, fmt.Sprintf("localization.speed must be positive and finite, got %v", s.Speed))
	}
	if len(s.InitialGuess) != 0 && len(s.InitialGuess) != 3 {
		errs = append(errs, fmt.Sprintf("localization.initialguess must have 3 coordinates, got %d", len(s.InitialGuess)))
	}
	if s.MaxIterations <= 0 {
		errs = append(errs, "localization.maxiterations must be positive")
	}
	if s.MaxEvaluations < 0 {
		errs = append(errs, "localization.maxevaluations must not be negative")
	}
	if s.ResidualTolerance < 0 || s.GradientTolerance < 0 || s.StallTolerance < 0 {
		errs = append(errs, "localization tolerances must not be negative")
	}
	if s.Workers < 0 {
		errs = append(errs, "localization.workers must not be negative")
	}
	return errs
}

func validateDatasetSettings(s *DatasetSettings) []string {
	var errs []string

	switch strings.ToLower(s.Store.Driver) {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("dataset.store.driver must be sqlite or mysql, got %q", s.Store.Driver))
	}
	if s.Store.DSN == "" {
		errs = append(errs, "dataset.store.dsn must be set")
	}
	if s.Store.BatchSize <= 0 {
		errs = append(errs, "dataset.store.batchsize must be positive")
	}
	if s.Mapping.Run == "" || s.Mapping.Event == "" || s.Mapping.RunType == "" {
		errs = append(errs, "dataset.mapping run, event and runtype must be set")
	}
	for _, name := range s.KeepRunTypes {
		if _, err := events.ParseRunType(name); err != nil {
			errs = append(errs, fmt.Sprintf("dataset.keepruntypes: %v", err))
		}
	}
	if s.ValidationFraction < 0 || s.ValidationFraction >= 1 {
		errs = append(errs, fmt.Sprintf("dataset.validationfraction must be in [0, 1), got %v", s.ValidationFraction))
	}
	c := s.Cuts
	if c.ChamberRadius <= 0 || c.FiducialRadius <= 0 {
		errs = append(errs, "dataset.cuts radii must be positive")
	}
	if c.ChamberZMin >= c.ChamberZMax || c.FiducialZMin >= c.FiducialZMax {
		errs = append(errs, "dataset.cuts z windows must have min below max")
	}
	return errs
}

func validateAudioSettings(s *AudioSettings) []string {
	var errs []string
	if s.Bands <= 0 {
		errs = append(errs, "audio.bands must be positive")
	}
	if s.WaveformLength <= 0 {
		errs = append(errs, "audio.waveformlength must be positive")
	}
	if s.CacheTTL < 0 {
		errs = append(errs, "audio.cachettl must not be negative")
	}
	return errs
}

func validateTrainingSettings(s *TrainingSettings) []string {
	var errs []string
	if s.BatchSize <= 0 {
		errs = append(errs, "training.batchsize must be positive")
	}
	if s.Position.Epochs <= 0 || s.Gravitational.Epochs <= 0 || s.Supervised.Epochs <= 0 {
		errs = append(errs, "training epochs must be positive")
	}
	if s.Gravitational.DefinitiveExamples < 0 {
		errs = append(errs, "training.gravitational.definitiveexamples must not be negative")
	}

	n := &s.Nucleation
	if n.Iterations <= 0 || n.StepsPerIteration <= 0 {
		errs = append(errs, "training.nucleation iterations and stepsperiteration must be positive")
	}
	if n.ThresholdDistance <= 0 || n.ThresholdDistance >= 0.5 {
		errs = append(errs, fmt.Sprintf("training.nucleation.thresholddistance must be in (0, 0.5), got %v", n.ThresholdDistance))
	}
	if n.StorageSize < s.BatchSize {
		errs = append(errs, "training.nucleation.storagesize must be at least training.batchsize")
	}
	if n.ReplacedPerBatch < 0 || n.ReplacedPerBatch > n.StorageSize {
		errs = append(errs, "training.nucleation.replacedperbatch must be in [0, storagesize]")
	}
	if n.AlphaClassWeight <= 0 || n.NeutronClassWeight <= 0 {
		errs = append(errs, "training.nucleation class weights must be positive")
	}
	return errs
}

func validatePlotSettings(s *PlotSettings) []string {
	if s.Bins <= 0 {
		return []string{"plot.bins must be positive"}
	}
	return nil
}

func validateLoggingSettings(s *logger.LoggingConfig) []string {
	var errs []string
	check := func(key, level string) {
		if level == "" {
			return
		}
		switch logger.LogLevel(strings.ToLower(level)) {
		case logger.LogLevelTrace, logger.LogLevelDebug, logger.LogLevelInfo, logger.LogLevelWarn, logger.LogLevelError:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown log level %q", key, level))
		}
	}
	check("logging.default_level", s.DefaultLevel)
	if s.Console != nil {
		check("logging.console.level", s.Console.Level)
	}
	if s.FileOutput != nil {
		check("logging.file_output.level", s.FileOutput.Level)
	}
	for module, level := range s.ModuleLevels {
		check("logging.module_levels."+module, level)
	}
	return errs
}

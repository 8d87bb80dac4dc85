// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/localization"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("localization.sensors", [][]float64{
		{5, 5, 0}, {-5, -5, 0}, {3, -3, 0}, {-3, 3, 0},
	})
	v.SetDefault("localization.speed", 1.0)
	v.SetDefault("localization.initialguess", []float64{0, 0, 0})
	v.SetDefault("localization.maxiterations", localization.DefaultMaxIterations)
	v.SetDefault("localization.maxevaluations", 0)
	v.SetDefault("localization.residualtolerance", localization.DefaultResidualTolerance)
	v.SetDefault("localization.gradienttolerance", localization.DefaultGradientTolerance)
	v.SetDefault("localization.stalltolerance", localization.DefaultStallTolerance)
	v.SetDefault("localization.workers", 0)

	v.SetDefault("dataset.input", "")
	v.SetDefault("dataset.store.driver", "sqlite")
	v.SetDefault("dataset.store.dsn", "events.db")
	v.SetDefault("dataset.store.batchsize", 500)
	v.SetDefault("dataset.store.slowquery", 200*time.Millisecond)

	m := events.DefaultMapping()
	v.SetDefault("dataset.mapping.run", m.Run)
	v.SetDefault("dataset.mapping.event", m.Event)
	v.SetDefault("dataset.mapping.runtype", m.RunType)
	v.SetDefault("dataset.mapping.x", m.X)
	v.SetDefault("dataset.mapping.y", m.Y)
	v.SetDefault("dataset.mapping.z", m.Z)
	v.SetDefault("dataset.mapping.acousticparameter", m.AcousticParameter)
	v.SetDefault("dataset.mapping.timezeros", m.TimeZeros)
	v.SetDefault("dataset.mapping.pulsecounts", m.PulseCounts)
	v.SetDefault("dataset.mapping.numbubbles", m.NumBubbles)
	v.SetDefault("dataset.mapping.audiopath", m.AudioPath)

	v.SetDefault("dataset.keepruntypes", []string{})
	v.SetDefault("dataset.filtermultiplebubbles", false)
	v.SetDefault("dataset.fiducialcuts", false)
	v.SetDefault("dataset.wallcuts", true)

	c := events.DefaultCuts()
	v.SetDefault("dataset.cuts.chamberradius", c.ChamberRadius)
	v.SetDefault("dataset.cuts.chamberzmin", c.ChamberZMin)
	v.SetDefault("dataset.cuts.chamberzmax", c.ChamberZMax)
	v.SetDefault("dataset.cuts.fiducialradius", c.FiducialRadius)
	v.SetDefault("dataset.cuts.fiducialzmin", c.FiducialZMin)
	v.SetDefault("dataset.cuts.fiducialzmax", c.FiducialZMax)

	v.SetDefault("dataset.validationfraction", 0.2)
	v.SetDefault("dataset.seed", 1)

	v.SetDefault("audio.directory", "")
	v.SetDefault("audio.cachettl", 10*time.Minute)
	v.SetDefault("audio.bands", 8)
	v.SetDefault("audio.waveformlength", 100000)

	v.SetDefault("training.resultsdir", "results")
	v.SetDefault("training.seed", 1)
	v.SetDefault("training.batchsize", 32)
	v.SetDefault("training.position.epochs", 200)
	v.SetDefault("training.gravitational.epochs", 250)
	v.SetDefault("training.gravitational.definitiveexamples", 512)
	v.SetDefault("training.nucleation.iterations", 50)
	v.SetDefault("training.nucleation.thresholddistance", 0.025)
	v.SetDefault("training.nucleation.alphaminap", 1.4)
	v.SetDefault("training.nucleation.neutronmaxap", 1.0)
	v.SetDefault("training.nucleation.storagesize", 256)
	v.SetDefault("training.nucleation.replacedperbatch", 16)
	v.SetDefault("training.nucleation.stepsperiteration", 128)
	v.SetDefault("training.nucleation.alphaclassweight", 8.0)
	v.SetDefault("training.nucleation.neutronclassweight", 1.0)
	v.SetDefault("training.supervised.epochs", 50)

	v.SetDefault("plot.outputdir", "plots")
	v.SetDefault("plot.bins", 20)
	v.SetDefault("plot.positivelabel", "Alpha particles")
	v.SetDefault("plot.negativelabel", "Neutrons")

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("telemetry.sentrydsn", "")
	v.SetDefault("metrics.textfilepath", "")
}

// DefaultSettings returns the settings used when no config file or
// environment override is present.
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		// defaults are static; a decode failure is a programming error
		panic(err)
	}
	return settings
}

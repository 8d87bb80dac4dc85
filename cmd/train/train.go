// Package train provides the train command and its per-loop subcommands.
package train

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bubblelab/bubblenet/internal/audio"
	"github.com/bubblelab/bubblenet/internal/conf"
	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/models"
	"github.com/bubblelab/bubblenet/internal/nn"
	"github.com/bubblelab/bubblenet/internal/sysinfo"
	"github.com/bubblelab/bubblenet/internal/training"
)

type trainFlags struct {
	resultsDir string
	epochs     int
}

// Command creates the train command.
func Command(ctx *conf.Context) *cobra.Command {
	flags := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train one of the event networks",
	}
	cmd.PersistentFlags().StringVar(&flags.resultsDir, "results-dir", "", "Override the directory validation results are written to")
	cmd.PersistentFlags().IntVar(&flags.epochs, "epochs", 0, "Override the configured number of epochs or iterations")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "position",
			Short: "Regress optical positions from piezo time zeros",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runPosition(cmd, ctx, flags) },
		},
		&cobra.Command{
			Use:   "gravitational",
			Short: "Train the banded-frequency classifier with partially trusted labels",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runGravitational(cmd, ctx, flags) },
		},
		&cobra.Command{
			Use:   "nucleation",
			Short: "Grow a training set from confident acoustic-parameter seeds",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runNucleation(cmd, ctx, flags) },
		},
		&cobra.Command{
			Use:   "pulse-count",
			Short: "Train the PMT pulse-count classifier",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runPulseCount(cmd, ctx, flags) },
		},
		&cobra.Command{
			Use:   "waveform",
			Short: "Train the convolutional waveform classifier",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runWaveform(cmd, ctx, flags) },
		},
	)
	return cmd
}

func (f *trainFlags) epochsOr(configured int) int {
	if f.epochs > 0 {
		return f.epochs
	}
	return configured
}

func newTrainer(ctx *conf.Context, flags *trainFlags) *training.Trainer {
	t := &ctx.Settings.Training
	dir := t.ResultsDir
	if flags.resultsDir != "" {
		dir = flags.resultsDir
	}
	var opts []training.Option
	if ctx.Metrics != nil {
		opts = append(opts, training.WithMetrics(ctx.Metrics.Training))
	}
	return training.New(dir, t.BatchSize, opts...)
}

func loadDataSet(cmd *cobra.Command, ctx *conf.Context) (*events.DataSet, error) {
	evs, err := ctx.LoadEvents(cmd.Context())
	if err != nil {
		return nil, err
	}
	opts, err := ctx.Settings.Dataset.DataSetOptions()
	if err != nil {
		return nil, err
	}
	return events.NewDataSet(evs, opts)
}

func newLoader(ctx *conf.Context) *audio.Loader {
	a := &ctx.Settings.Audio
	return audio.NewLoader(a.Directory, a.CacheTTL)
}

func seed(ctx *conf.Context) nn.Option {
	return nn.WithSeed(ctx.Settings.Training.Seed)
}

func inputWidth(ex events.Examples) (int, error) {
	if ex.Len() == 0 {
		return 0, errors.New(events.ErrNoData).
			Component("cli").
			Category(errors.CategoryModelTraining).
			Build()
	}
	return len(ex.Inputs[0]), nil
}

func report(cmd *cobra.Command, loop string, hist *nn.History) {
	n := hist.Epochs()
	if n == 0 {
		return
	}
	line := fmt.Sprintf("%s: %d epochs, loss %.4f, accuracy %.3f", loop, n, hist.Loss[n-1], hist.Accuracy[n-1])
	if len(hist.ValLoss) > 0 {
		line += fmt.Sprintf(", val loss %.4f, val accuracy %.3f", hist.ValLoss[n-1], hist.ValAccuracy[n-1])
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func runPosition(cmd *cobra.Command, ctx *conf.Context, flags *trainFlags) error {
	ds, err := loadDataSet(cmd, ctx)
	if err != nil {
		return err
	}
	split := ds.PositionFromTimeZero()
	width, err := inputWidth(split.Training)
	if err != nil {
		return err
	}
	model, err := models.PositionFromTimeZero(width, seed(ctx))
	if err != nil {
		return err
	}
	hist, err := newTrainer(ctx, flags).PositionFromTimeZero(cmd.Context(), model, split, flags.epochsOr(ctx.Settings.Training.Position.Epochs))
	if err != nil {
		return err
	}
	report(cmd, training.LoopPosition, hist)
	return nil
}

func runGravitational(cmd *cobra.Command, ctx *conf.Context, flags *trainFlags) error {
	ds, err := loadDataSet(cmd, ctx)
	if err != nil {
		return err
	}
	ds.FilterTraining(events.PassesValidationCuts)
	split, err := ds.AlphaClassification(audio.BandedFrequencyConverter(newLoader(ctx), ctx.Settings.Audio.Bands))
	if err != nil {
		return err
	}
	width, err := inputWidth(split.Training)
	if err != nil {
		return err
	}
	model, err := models.BandedFrequency(width, seed(ctx))
	if err != nil {
		return err
	}
	g := ctx.Settings.Training.Gravitational
	hist, err := newTrainer(ctx, flags).Gravitational(cmd.Context(), model, split, training.GravitationalConfig{
		Epochs:             flags.epochsOr(g.Epochs),
		DefinitiveExamples: g.DefinitiveExamples,
	})
	if err != nil {
		return err
	}
	report(cmd, training.LoopGravitational, hist)
	return nil
}

func runNucleation(cmd *cobra.Command, ctx *conf.Context, flags *trainFlags) error {
	ds, err := loadDataSet(cmd, ctx)
	if err != nil {
		return err
	}
	bubbles := ds.All()
	convert := audio.BandedFrequencyConverter(newLoader(ctx), ctx.Settings.Audio.Bands)

	width := 0
	for i := range bubbles {
		x, err := convert(bubbles[i])
		if errors.Is(err, events.ErrNoData) {
			continue
		}
		if err != nil {
			return err
		}
		width = len(x)
		break
	}
	if width == 0 {
		return errors.New(events.ErrNoData).
			Component("cli").
			Category(errors.CategoryModelTraining).
			Context("bubbles", len(bubbles)).
			Build()
	}
	model, err := models.BandedFrequency(width, seed(ctx))
	if err != nil {
		return err
	}

	t := ctx.Settings.Training
	n := t.Nucleation
	rep, err := newTrainer(ctx, flags).IterativeClusterNucleation(cmd.Context(), model, bubbles, convert, training.NucleationConfig{
		Iterations:        flags.epochsOr(n.Iterations),
		ThresholdDistance: n.ThresholdDistance,
		AlphaMinAP:        n.AlphaMinAP,
		NeutronMaxAP:      n.NeutronMaxAP,
		Generator: events.GeneratorConfig{
			StorageSize:      n.StorageSize,
			BatchSize:        t.BatchSize,
			ReplacedPerBatch: n.ReplacedPerBatch,
			Seed:             t.Seed,
		},
		StepsPerIteration: n.StepsPerIteration,
		ClassWeights:      map[int]float64{0: n.NeutronClassWeight, 1: n.AlphaClassWeight},
	})
	if err != nil {
		return err
	}
	if k := len(rep.Iterations); k > 0 {
		last := rep.Iterations[k-1]
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d iterations, training set %d, agreement %.3f\n",
			training.LoopNucleation, k, len(rep.Training), last.Agreement)
	}
	return nil
}

func runPulseCount(cmd *cobra.Command, ctx *conf.Context, flags *trainFlags) error {
	ds, err := loadDataSet(cmd, ctx)
	if err != nil {
		return err
	}
	split, err := ds.AlphaClassification(events.PulseCountConverter)
	if err != nil {
		return err
	}
	model, err := models.PulseCount(seed(ctx))
	if err != nil {
		return err
	}
	return runSupervised(cmd, ctx, flags, "pulse_count", model, split)
}

func runWaveform(cmd *cobra.Command, ctx *conf.Context, flags *trainFlags) error {
	ds, err := loadDataSet(cmd, ctx)
	if err != nil {
		return err
	}
	length := ctx.Settings.Audio.WaveformLength
	warnOnLowMemory(len(ds.Training)+len(ds.Validation), length*models.WaveformChannels)
	convert := audio.WaveformConverter(newLoader(ctx), length, models.WaveformChannels)
	split, err := ds.AlphaClassification(convert)
	if err != nil {
		return err
	}
	model, err := models.WaveformLocalization(length, seed(ctx))
	if err != nil {
		return err
	}
	return runSupervised(cmd, ctx, flags, "waveform", model, split)
}

// warnOnLowMemory logs when the converted examples alone would not fit in
// available memory.
func warnOnLowMemory(examples, width int) {
	log := logger.Global().Module("cli")
	check, err := sysinfo.CheckMemory(sysinfo.Float64Bytes(examples * width))
	if err != nil {
		log.Debug("memory check skipped", logger.Error(err))
		return
	}
	if !check.Sufficient() {
		log.Warn("training examples may not fit in memory",
			logger.Int64("required_mb", int64(check.Required>>20)),
			logger.Int64("available_mb", int64(check.Available>>20)))
	}
}

func runSupervised(cmd *cobra.Command, ctx *conf.Context, flags *trainFlags, loop string, model *nn.Model, split events.Split) error {
	hist, err := newTrainer(ctx, flags).Supervised(cmd.Context(), loop, model, split, flags.epochsOr(ctx.Settings.Training.Supervised.Epochs))
	if err != nil {
		return err
	}
	report(cmd, loop, hist)
	return nil
}

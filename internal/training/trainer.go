// Package training runs the supervised and semi-supervised training loops.
package training

import (
	"context"
	"fmt"
	"time"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/nn"
	"github.com/bubblelab/bubblenet/internal/observability/metrics"
	"github.com/bubblelab/bubblenet/internal/results"
)

// Loop names label metrics, logs and result file prefixes.
const (
	LoopPosition      = "position"
	LoopGravitational = "gravitational"
	LoopNucleation    = "nucleation"
)

// DefaultBatchSize is used when a Trainer is built with a zero batch size.
const DefaultBatchSize = 32

// GetLogger returns the training module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("training")
}

// Trainer holds what every loop shares.
type Trainer struct {
	resultsDir string
	batchSize  int
	metrics    *metrics.TrainingMetrics
	log        logger.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithMetrics records epoch metrics.
func WithMetrics(m *metrics.TrainingMetrics) Option {
	return func(t *Trainer) { t.metrics = m }
}

// WithLogger overrides the training logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Trainer) { t.log = l }
}

// New returns a Trainer saving results below resultsDir. An empty
// resultsDir disables saving.
func New(resultsDir string, batchSize int, options ...Option) *Trainer {
	t := &Trainer{resultsDir: resultsDir, batchSize: batchSize}
	if t.batchSize <= 0 {
		t.batchSize = DefaultBatchSize
	}
	for _, opt := range options {
		opt(t)
	}
	if t.log == nil {
		t.log = GetLogger()
	}
	return t
}

func trainingErr(loop, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("training").
		Category(errors.CategoryModelTraining).
		Context("loop", loop).
		Build()
}

func requireExamples(loop string, ex events.Examples, what string) error {
	if ex.Len() == 0 {
		return errors.New(fmt.Errorf("%w: no %s examples", events.ErrNoData, what)).
			Component("training").
			Category(errors.CategoryModelTraining).
			Context("loop", loop).
			Build()
	}
	return nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.New(err).
			Component("training").
			Category(errors.CategoryCancellation).
			Build()
	}
	return nil
}

// epoch runs one pass over train, then logs and records it.
func (t *Trainer) epoch(ctx context.Context, loop string, n int, model *nn.Model, train, val events.Examples, opts nn.FitOptions) (*nn.History, error) {
	start := time.Now()
	opts.Epochs = 1
	opts.BatchSize = t.batchSize
	opts.Shuffle = true
	if val.Len() > 0 {
		opts.ValidationX, opts.ValidationY = val.Inputs, val.Truths
	}
	hist, err := model.Fit(ctx, train.Inputs, train.Truths, opts)
	if err != nil {
		return nil, err
	}
	t.recordEpoch(loop, n, hist, time.Since(start))
	return hist, nil
}

func (t *Trainer) recordEpoch(loop string, n int, hist *nn.History, elapsed time.Duration) {
	last := len(hist.Loss) - 1
	valLoss := 0.0
	fields := []logger.Field{
		logger.String("loop", loop),
		logger.Int("epoch", n),
		logger.Float64("loss", hist.Loss[last]),
		logger.Float64("accuracy", hist.Accuracy[last]),
	}
	if len(hist.ValLoss) > 0 {
		valLoss = hist.ValLoss[len(hist.ValLoss)-1]
		fields = append(fields,
			logger.Float64("val_loss", valLoss),
			logger.Float64("val_accuracy", hist.ValAccuracy[len(hist.ValAccuracy)-1]))
	}
	fields = append(fields, logger.Duration("elapsed", elapsed))
	t.log.Info("epoch finished", fields...)
	t.metrics.RecordEpoch(loop, hist.Loss[last], hist.Accuracy[last], valLoss)
}

// saveValidation predicts the validation set and saves it as a result.
func (t *Trainer) saveValidation(loop string, n int, model *nn.Model, val events.Examples) error {
	if t.resultsDir == "" || val.Len() == 0 {
		return nil
	}
	out, err := model.Predict(val.Inputs)
	if err != nil {
		return err
	}
	return t.save(loop, n, firstColumn(val.Truths), firstColumn(out), nil)
}

func (t *Trainer) save(loop string, n int, truths, outputs []float64, names []string) error {
	if t.resultsDir == "" {
		return nil
	}
	if _, err := results.Save(t.resultsDir, &results.TestResult{
		Prefix:       loop + "_",
		Epoch:        n,
		GroundTruths: truths,
		Outputs:      outputs,
		Events:       names,
	}); err != nil {
		return err
	}
	t.metrics.RecordResultSaved(loop)
	return nil
}

func firstColumn(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out
}

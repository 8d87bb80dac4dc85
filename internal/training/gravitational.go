package training

import (
	"context"
	"slices"

	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/nn"
)

// UndecidedTruth is the ground truth given to examples whose label is not
// trusted.
const UndecidedTruth = 0.5

// GravitationalConfig configures the gravitational loop.
type GravitationalConfig struct {
	Epochs int
	// DefinitiveExamples is how many leading training examples keep their
	// real ground truth.
	DefinitiveExamples int
}

// maskTruths returns a copy of truths in which every row from keep onwards
// is set to UndecidedTruth.
func maskTruths(truths [][]float64, keep int) [][]float64 {
	out := make([][]float64, len(truths))
	for i, row := range truths {
		if i < keep {
			out[i] = slices.Clone(row)
			continue
		}
		out[i] = make([]float64, len(row))
		for j := range out[i] {
			out[i][j] = UndecidedTruth
		}
	}
	return out
}

// Gravitational trains on a few labelled examples while the rest pull the
// network toward 0.5 until it has learned from the labelled ones. The
// validation predictions are saved after every epoch.
func (t *Trainer) Gravitational(ctx context.Context, model *nn.Model, split events.Split, cfg GravitationalConfig) (*nn.History, error) {
	if err := requireExamples(LoopGravitational, split.Training, "training"); err != nil {
		return nil, err
	}
	if cfg.DefinitiveExamples < 0 {
		return nil, trainingErr(LoopGravitational, "definitive examples must not be negative, got %d", cfg.DefinitiveExamples)
	}

	train := events.Examples{
		Inputs: split.Training.Inputs,
		Truths: maskTruths(split.Training.Truths, cfg.DefinitiveExamples),
	}
	t.metrics.SetTrainingExamples(LoopGravitational, train.Len())
	t.log.Info("training gravitational classifier",
		logger.Int("training", train.Len()),
		logger.Int("definitive", min(cfg.DefinitiveExamples, train.Len())),
		logger.Int("validation", split.Validation.Len()),
		logger.Int("epochs", cfg.Epochs))

	total := &nn.History{}
	for n := range cfg.Epochs {
		if err := checkContext(ctx); err != nil {
			return total, err
		}
		hist, err := t.epoch(ctx, LoopGravitational, n, model, train, split.Validation, nn.FitOptions{})
		if err != nil {
			return total, err
		}
		appendHistory(total, hist)
		if err := t.saveValidation(LoopGravitational, n, model, split.Validation); err != nil {
			return total, err
		}
	}
	return total, nil
}

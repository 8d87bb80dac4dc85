package training

import (
	"context"

	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/nn"
)

// PositionFromTimeZero fits model on piezo timings against optical
// positions for the given number of epochs.
func (t *Trainer) PositionFromTimeZero(ctx context.Context, model *nn.Model, split events.Split, epochs int) (*nn.History, error) {
	if err := requireExamples(LoopPosition, split.Training, "training"); err != nil {
		return nil, err
	}
	t.metrics.SetTrainingExamples(LoopPosition, split.Training.Len())
	t.log.Info("training position from time zero",
		logger.Int("training", split.Training.Len()),
		logger.Int("validation", split.Validation.Len()),
		logger.Int("epochs", epochs))

	total := &nn.History{}
	for n := range epochs {
		if err := checkContext(ctx); err != nil {
			return total, err
		}
		hist, err := t.epoch(ctx, LoopPosition, n, model, split.Training, split.Validation, nn.FitOptions{})
		if err != nil {
			return total, err
		}
		appendHistory(total, hist)
	}
	return total, nil
}

// Supervised fits a classifier for the given number of epochs, saving the
// validation predictions after each one under the loop name.
func (t *Trainer) Supervised(ctx context.Context, loop string, model *nn.Model, split events.Split, epochs int) (*nn.History, error) {
	if err := requireExamples(loop, split.Training, "training"); err != nil {
		return nil, err
	}
	t.metrics.SetTrainingExamples(loop, split.Training.Len())
	t.log.Info("training classifier",
		logger.String("loop", loop),
		logger.Int("training", split.Training.Len()),
		logger.Int("validation", split.Validation.Len()),
		logger.Int("epochs", epochs))

	total := &nn.History{}
	for n := range epochs {
		if err := checkContext(ctx); err != nil {
			return total, err
		}
		hist, err := t.epoch(ctx, loop, n, model, split.Training, split.Validation, nn.FitOptions{})
		if err != nil {
			return total, err
		}
		appendHistory(total, hist)
		if err := t.saveValidation(loop, n, model, split.Validation); err != nil {
			return total, err
		}
	}
	return total, nil
}

func appendHistory(dst, src *nn.History) {
	dst.Loss = append(dst.Loss, src.Loss...)
	dst.Accuracy = append(dst.Accuracy, src.Accuracy...)
	dst.ValLoss = append(dst.ValLoss, src.ValLoss...)
	dst.ValAccuracy = append(dst.ValAccuracy, src.ValAccuracy...)
}

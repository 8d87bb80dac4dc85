package training

import (
	"context"
	"math"
	"time"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/nn"
)

// NucleationConfig configures iterative cluster nucleation.
type NucleationConfig struct {
	Iterations int
	// ThresholdDistance is how close to 0 or 1 a prediction must be for the
	// bubble to join the training set.
	ThresholdDistance float64
	// AlphaMinAP and NeutronMaxAP select the initial confident set.
	AlphaMinAP   float64
	NeutronMaxAP float64
	Generator    events.GeneratorConfig
	// StepsPerIteration is the number of generator batches per iteration.
	StepsPerIteration int
	ClassWeights      map[int]float64
}

// IterationStats summarize one nucleation iteration.
type IterationStats struct {
	Iteration int
	Training  int // training set size the iteration trained on
	Added     int // bubbles newly added after predicting
	Relabeled int // previously added bubbles whose label flipped
	Loss      float64
	Accuracy  float64
	// Agreement is the fraction of predicted bubbles whose thresholded
	// prediction matches their run type.
	Agreement float64
}

// NucleationReport is the outcome of IterativeClusterNucleation.
type NucleationReport struct {
	Iterations []IterationStats
	// Training is the final training set, relabelled bubbles included.
	Training []events.BubbleEvent
}

// ConfidentForInitialSet reports whether an event's acoustic parameter is
// decisive enough to seed the training set: low-background events need a
// high parameter, calibration events a low one. NaN never qualifies.
func ConfidentForInitialSet(e *events.BubbleEvent, alphaMinAP, neutronMaxAP float64) bool {
	if e.RunType == events.LowBackground {
		return e.AcousticParameter >= alphaMinAP
	}
	return e.AcousticParameter <= neutronMaxAP
}

// labelFor maps a confident prediction to the run type carrying that
// ground truth. Alpha truth is 1, so high predictions become low-background.
func labelFor(prediction float64) events.RunType {
	if prediction >= 0.5 {
		return events.LowBackground
	}
	return events.AmericiumBeryllium
}

func confident(prediction, threshold float64) bool {
	return math.Min(prediction, 1-prediction) < threshold
}

// nucleationSet is the growing training set. Initial events keep their
// labels; added events are unique by key and follow the latest prediction.
type nucleationSet struct {
	events  []events.BubbleEvent
	index   map[string]int
	initial int
}

func newNucleationSet(seed []events.BubbleEvent) *nucleationSet {
	s := &nucleationSet{index: make(map[string]int, len(seed)), initial: len(seed)}
	for i := range seed {
		s.events = append(s.events, seed[i].Clone())
		s.index[seed[i].Key()] = i
	}
	return s
}

// offer adds or relabels e and reports what happened.
func (s *nucleationSet) offer(e *events.BubbleEvent, label events.RunType) (added, relabeled bool) {
	key := e.Key()
	if i, ok := s.index[key]; ok {
		if i < s.initial || s.events[i].RunType == label {
			return false, false
		}
		s.events[i].RunType = label
		return false, true
	}
	c := e.Clone()
	c.RunType = label
	s.index[key] = len(s.events)
	s.events = append(s.events, c)
	return true, false
}

// IterativeClusterNucleation trains on a confident seed set and, after each
// iteration, adds every bubble the network classifies confidently with the
// predicted label. The predictions of each iteration are saved against the
// bubbles' original labels.
func (t *Trainer) IterativeClusterNucleation(ctx context.Context, model *nn.Model, bubbles []events.BubbleEvent, convert events.Converter, cfg NucleationConfig) (*NucleationReport, error) {
	var seed []events.BubbleEvent
	for i := range bubbles {
		if ConfidentForInitialSet(&bubbles[i], cfg.AlphaMinAP, cfg.NeutronMaxAP) {
			seed = append(seed, bubbles[i])
		}
	}
	if len(seed) == 0 {
		return nil, errors.New(events.ErrNoData).
			Component("training").
			Category(errors.CategoryModelTraining).
			Context("loop", LoopNucleation).
			Context("bubbles", len(bubbles)).
			Build()
	}
	set := newNucleationSet(seed)
	t.log.Info("starting iterative cluster nucleation",
		logger.Int("bubbles", len(bubbles)),
		logger.Int("initial_set", len(seed)),
		logger.Int("iterations", cfg.Iterations))

	report := &NucleationReport{}
	for n := range cfg.Iterations {
		if err := checkContext(ctx); err != nil {
			report.Training = set.events
			return report, err
		}
		start := time.Now()
		stats := IterationStats{Iteration: n, Training: len(set.events)}
		t.metrics.SetTrainingExamples(LoopNucleation, len(set.events))

		genCfg := cfg.Generator
		genCfg.Seed += uint64(n)
		gen, err := events.NewClassificationGenerator(set.events, convert, genCfg)
		if err != nil {
			return report, err
		}
		hist, err := model.FitGenerator(ctx, gen, nn.FitOptions{
			Epochs:        1,
			StepsPerEpoch: cfg.StepsPerIteration,
			ClassWeights:  cfg.ClassWeights,
		})
		if err != nil {
			report.Training = set.events
			return report, err
		}
		stats.Loss, stats.Accuracy = hist.Loss[0], hist.Accuracy[0]

		preds, err := t.predictBubbles(model, bubbles, convert)
		if err != nil {
			return report, err
		}
		truths := make([]float64, 0, len(preds))
		outputs := make([]float64, 0, len(preds))
		names := make([]string, 0, len(preds))
		agree, sqErr := 0, 0.0
		for _, p := range preds {
			e := &bubbles[p.index]
			truth := e.AlphaTruth()
			truths = append(truths, truth)
			outputs = append(outputs, p.value)
			names = append(names, e.Key())
			sqErr += (p.value - truth) * (p.value - truth)
			if (labelFor(p.value) == events.LowBackground) == e.IsAlpha() {
				agree++
			}
			if !confident(p.value, cfg.ThresholdDistance) {
				continue
			}
			added, relabeled := set.offer(e, labelFor(p.value))
			if added {
				stats.Added++
			}
			if relabeled {
				stats.Relabeled++
			}
		}
		predLoss := 0.0
		if len(preds) > 0 {
			stats.Agreement = float64(agree) / float64(len(preds))
			predLoss = sqErr / float64(len(preds))
		}

		t.log.Info("nucleation iteration finished",
			logger.Int("iteration", n),
			logger.Int("training", stats.Training),
			logger.Int("added", stats.Added),
			logger.Int("relabeled", stats.Relabeled),
			logger.Float64("loss", stats.Loss),
			logger.Float64("accuracy", stats.Accuracy),
			logger.Float64("agreement", stats.Agreement),
			logger.Duration("elapsed", time.Since(start)))
		t.metrics.RecordEpoch(LoopNucleation, stats.Loss, stats.Accuracy, predLoss)
		report.Iterations = append(report.Iterations, stats)

		if len(preds) > 0 {
			if err := t.save(LoopNucleation, n, truths, outputs, names); err != nil {
				return report, err
			}
		}
	}
	report.Training = set.events
	return report, nil
}

type prediction struct {
	index int
	value float64
}

// predictionChunk bounds how many converted inputs are held at once.
const predictionChunk = 64

// predictBubbles predicts every bubble that has data for convert.
func (t *Trainer) predictBubbles(model *nn.Model, bubbles []events.BubbleEvent, convert events.Converter) ([]prediction, error) {
	var out []prediction
	var inputs [][]float64
	var indices []int
	flush := func() error {
		if len(inputs) == 0 {
			return nil
		}
		y, err := model.Predict(inputs)
		if err != nil {
			return err
		}
		for i, row := range y {
			out = append(out, prediction{index: indices[i], value: row[0]})
		}
		inputs, indices = inputs[:0], indices[:0]
		return nil
	}
	for i := range bubbles {
		x, err := convert(bubbles[i])
		if errors.Is(err, events.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, x)
		indices = append(indices, i)
		if len(inputs) == predictionChunk {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

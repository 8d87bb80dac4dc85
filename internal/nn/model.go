package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// predictBatchSize bounds memory during inference.
const predictBatchSize = 32

// BatchGenerator yields training batches for FitGenerator.
type BatchGenerator interface {
	Next() (x, y [][]float64, err error)
}

// FitOptions control Fit and FitGenerator.
type FitOptions struct {
	Epochs    int
	BatchSize int
	// StepsPerEpoch is the number of generator batches per epoch; only
	// FitGenerator reads it.
	StepsPerEpoch int
	Shuffle       bool
	// ClassWeights scales each sample's loss by the weight of its class, the
	// rounded first truth value. Missing classes weigh one.
	ClassWeights map[int]float64
	ValidationX  [][]float64
	ValidationY  [][]float64
}

// History records per-epoch metrics. Validation slices stay empty without
// validation data.
type History struct {
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
}

// Epochs returns the number of completed epochs.
func (h *History) Epochs() int { return len(h.Loss) }

// Model is a sequential network.
type Model struct {
	layers []Layer
	shapes []Shape
	params []*Param
	opt    Optimizer
	seed   uint64
	rng    *rand.Rand
	log    logger.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithSeed fixes weight initialization, shuffling and dropout.
func WithSeed(seed uint64) Option {
	return func(m *Model) { m.seed = seed }
}

// WithOptimizer replaces the default Adam optimizer.
func WithOptimizer(o Optimizer) Option {
	return func(m *Model) { m.opt = o }
}

// WithLogger sets the logger used for epoch progress.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) { m.log = l }
}

// NewModel builds layers in order. The first layer must be an InputLayer.
func NewModel(layers []Layer, options ...Option) (*Model, error) {
	m := &Model{seed: 1}
	for _, opt := range options {
		opt(m)
	}
	if m.opt == nil {
		m.opt = NewAdam(DefaultAdamConfig())
	}
	if m.log == nil {
		m.log = GetLogger()
	}
	m.rng = rand.New(rand.NewPCG(m.seed, m.seed^0x9e3779b97f4a7c15))

	if len(layers) == 0 {
		return nil, buildErr("model has no layers")
	}
	if _, ok := layers[0].(*InputLayer); !ok {
		return nil, buildErr("first layer must be Input, got %s", layers[0].Kind())
	}
	var shape Shape
	for i, l := range layers {
		out, err := l.Build(shape, m.rng)
		if err != nil {
			return nil, errors.New(fmt.Errorf("layer %d (%s): %w", i, l.Kind(), err)).
				Component("nn").
				Category(errors.CategoryModelBuild).
				Build()
		}
		shape = out
		m.shapes = append(m.shapes, out)
		m.params = append(m.params, l.Params()...)
	}
	m.layers = layers
	return m, nil
}

// InputShape returns the per-sample input shape.
func (m *Model) InputShape() Shape { return m.shapes[0] }

// OutputShape returns the per-sample output shape.
func (m *Model) OutputShape() Shape { return m.shapes[len(m.shapes)-1] }

// LayerShapes returns each layer's per-sample output shape.
func (m *Model) LayerShapes() []Shape {
	out := make([]Shape, len(m.shapes))
	for i, s := range m.shapes {
		out[i] = append(Shape(nil), s...)
	}
	return out
}

// Layers returns the model layers.
func (m *Model) Layers() []Layer { return m.layers }

// Params returns every trainable tensor.
func (m *Model) Params() []*Param { return m.params }

// NumParams returns the number of trainable values.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.Value)
	}
	return n
}

// Summary renders one line per layer with its output shape and parameter
// count.
func (m *Model) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-24s %-18s %10s\n", "Layer", "Output shape", "Params")
	for i, l := range m.layers {
		n := 0
		for _, p := range l.Params() {
			n += len(p.Value)
		}
		fmt.Fprintf(&sb, "%-24s %-18s %10d\n", fmt.Sprintf("%s_%d", strings.ToLower(l.Kind()), i), m.shapes[i], n)
	}
	fmt.Fprintf(&sb, "Total params: %d\n", m.NumParams())
	return sb.String()
}

func (m *Model) checkInputs(x [][]float64) error {
	if len(x) == 0 {
		return trainErr("empty batch")
	}
	want := m.InputShape().Size()
	for i, row := range x {
		if len(row) != want {
			return errors.Newf("sample %d has %d values, model expects %d", i, len(row), want).
				Component("nn").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

func (m *Model) checkPairs(x, y [][]float64) error {
	if err := m.checkInputs(x); err != nil {
		return err
	}
	if len(x) != len(y) {
		return errors.Newf("%d inputs but %d truths", len(x), len(y)).
			Component("nn").
			Category(errors.CategoryValidation).
			Build()
	}
	want := m.OutputShape().Size()
	for i, row := range y {
		if len(row) != want {
			return errors.Newf("truth %d has %d values, model outputs %d", i, len(row), want).
				Component("nn").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

func (m *Model) forward(x [][]float64, training bool) [][]float64 {
	for _, l := range m.layers {
		x = l.Forward(x, training)
	}
	return x
}

// l2Penalty returns the regularization loss and, when grads is set, adds
// its gradient to each parameter.
func (m *Model) l2Penalty(grads bool) float64 {
	total := 0.0
	for _, p := range m.params {
		if p.L2 == 0 {
			continue
		}
		for i, v := range p.Value {
			total += p.L2 * v * v
			if grads {
				p.Grad[i] += 2 * p.L2 * v
			}
		}
	}
	return total
}

// computeGradients runs a training forward and backward pass, leaving the
// gradients in each Param, and returns the loss and outputs.
func (m *Model) computeGradients(x, y [][]float64, weights []float64) (float64, [][]float64) {
	for _, p := range m.params {
		clear(p.Grad)
	}
	out := m.forward(x, true)
	grad := newBatch(len(out), len(out[0]))
	loss := weightedMSE(out, y, weights, grad)
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].Backward(grad)
	}
	return loss + m.l2Penalty(true), out
}

func sampleWeights(y [][]float64, classWeights map[int]float64) []float64 {
	if classWeights == nil {
		return nil
	}
	w := make([]float64, len(y))
	for i, row := range y {
		w[i] = 1
		if cw, ok := classWeights[int(math.Round(row[0]))]; ok {
			w[i] = cw
		}
	}
	return w
}

// TrainOnBatch applies one optimizer step and returns the loss and accuracy
// measured before the update.
func (m *Model) TrainOnBatch(x, y [][]float64, classWeights map[int]float64) (loss, accuracy float64, err error) {
	if err := m.checkPairs(x, y); err != nil {
		return 0, 0, err
	}
	loss, out := m.computeGradients(x, y, sampleWeights(y, classWeights))
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, 0, trainErr("loss diverged to %g", loss)
	}
	m.opt.Step(m.params)
	return loss, binaryAccuracy(out, y), nil
}

func cancelled(err error) error {
	return errors.New(err).
		Component("nn").
		Category(errors.CategoryCancellation).
		Build()
}

func gather(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// Fit trains for opts.Epochs passes over x. The context is checked between
// batches.
func (m *Model) Fit(ctx context.Context, x, y [][]float64, opts FitOptions) (*History, error) {
	if err := m.checkPairs(x, y); err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = predictBatchSize
	}
	hist := &History{}
	for epoch := range opts.Epochs {
		start := time.Now()
		order := make([]int, len(x))
		for i := range order {
			order[i] = i
		}
		if opts.Shuffle {
			order = m.rng.Perm(len(x))
		}

		var lossSum, accSum float64
		for lo := 0; lo < len(order); lo += batchSize {
			if err := ctx.Err(); err != nil {
				return hist, cancelled(err)
			}
			idx := order[lo:min(lo+batchSize, len(order))]
			loss, acc, err := m.TrainOnBatch(gather(x, idx), gather(y, idx), opts.ClassWeights)
			if err != nil {
				return hist, err
			}
			lossSum += loss * float64(len(idx))
			accSum += acc * float64(len(idx))
		}
		n := float64(len(x))
		if err := m.endEpoch(hist, epoch, lossSum/n, accSum/n, opts, start); err != nil {
			return hist, err
		}
	}
	return hist, nil
}

// FitGenerator trains for opts.Epochs epochs of opts.StepsPerEpoch batches
// drawn from gen.
func (m *Model) FitGenerator(ctx context.Context, gen BatchGenerator, opts FitOptions) (*History, error) {
	if opts.StepsPerEpoch <= 0 {
		return nil, trainErr("steps per epoch must be positive, got %d", opts.StepsPerEpoch)
	}
	hist := &History{}
	for epoch := range opts.Epochs {
		start := time.Now()
		var lossSum, accSum, seen float64
		for range opts.StepsPerEpoch {
			if err := ctx.Err(); err != nil {
				return hist, cancelled(err)
			}
			x, y, err := gen.Next()
			if err != nil {
				return hist, err
			}
			loss, acc, err := m.TrainOnBatch(x, y, opts.ClassWeights)
			if err != nil {
				return hist, err
			}
			lossSum += loss * float64(len(x))
			accSum += acc * float64(len(x))
			seen += float64(len(x))
		}
		if err := m.endEpoch(hist, epoch, lossSum/seen, accSum/seen, opts, start); err != nil {
			return hist, err
		}
	}
	return hist, nil
}

func (m *Model) endEpoch(hist *History, epoch int, loss, acc float64, opts FitOptions, start time.Time) error {
	hist.Loss = append(hist.Loss, loss)
	hist.Accuracy = append(hist.Accuracy, acc)
	fields := []logger.Field{
		logger.Int("epoch", epoch+1),
		logger.Float64("loss", loss),
		logger.Float64("accuracy", acc),
	}
	if len(opts.ValidationX) > 0 {
		valLoss, valAcc, err := m.Evaluate(opts.ValidationX, opts.ValidationY)
		if err != nil {
			return err
		}
		hist.ValLoss = append(hist.ValLoss, valLoss)
		hist.ValAccuracy = append(hist.ValAccuracy, valAcc)
		fields = append(fields, logger.Float64("val_loss", valLoss), logger.Float64("val_accuracy", valAcc))
	}
	fields = append(fields, logger.Duration("elapsed", time.Since(start)))
	m.log.Debug("epoch complete", fields...)
	return nil
}

// Predict runs inference.
func (m *Model) Predict(x [][]float64) ([][]float64, error) {
	if err := m.checkInputs(x); err != nil {
		return nil, err
	}
	out := make([][]float64, 0, len(x))
	for lo := 0; lo < len(x); lo += predictBatchSize {
		out = append(out, m.forward(x[lo:min(lo+predictBatchSize, len(x))], false)...)
	}
	return out, nil
}

// Evaluate returns the inference loss, regularization included, and binary
// accuracy.
func (m *Model) Evaluate(x, y [][]float64) (loss, accuracy float64, err error) {
	if err := m.checkPairs(x, y); err != nil {
		return 0, 0, err
	}
	out, err := m.Predict(x)
	if err != nil {
		return 0, 0, err
	}
	return weightedMSE(out, y, nil, nil) + m.l2Penalty(false), binaryAccuracy(out, y), nil
}

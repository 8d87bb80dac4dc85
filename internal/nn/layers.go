package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Layer is one stage of a sequential model. Build is called once with the
// previous layer's output shape before any Forward call. Backward receives
// the loss gradient with respect to the last Forward output, accumulates
// parameter gradients and returns the gradient with respect to its input.
type Layer interface {
	Kind() string
	Build(in Shape, rng *rand.Rand) (Shape, error)
	Forward(x [][]float64, training bool) [][]float64
	Backward(grad [][]float64) [][]float64
	Params() []*Param
}

// glorotUniform fills w from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
}

// InputLayer fixes the per-sample shape of a model. It must come first.
type InputLayer struct {
	shape Shape
}

// Input declares the model input shape.
func Input(dims ...int) *InputLayer {
	return &InputLayer{shape: Shape(dims)}
}

func (l *InputLayer) Kind() string { return "Input" }

func (l *InputLayer) Build(_ Shape, _ *rand.Rand) (Shape, error) {
	if l.shape.Size() <= 0 {
		return nil, buildErr("input shape %v has no values", l.shape)
	}
	return l.shape, nil
}

func (l *InputLayer) Forward(x [][]float64, _ bool) [][]float64 { return x }
func (l *InputLayer) Backward(grad [][]float64) [][]float64   { return grad }
func (l *InputLayer) Params() []*Param                        { return nil }

// DenseLayer is a fully connected layer over the flattened input.
type DenseLayer struct {
	units      int
	activation Activation
	l2         float64

	in      int
	kernel  *Param // in × units, row-major
	bias    *Param
	lastIn  [][]float64
	lastOut [][]float64
}

// Dense returns a fully connected layer. l2 penalizes the kernel only.
func Dense(units int, activation Activation, l2 float64) *DenseLayer {
	return &DenseLayer{units: units, activation: activation, l2: l2}
}

func (l *DenseLayer) Kind() string { return "Dense" }

func (l *DenseLayer) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if l.units <= 0 {
		return nil, buildErr("dense layer needs at least one unit, got %d", l.units)
	}
	l.in = in.Size()
	l.kernel = newParam("kernel", l.in*l.units, l.l2)
	l.bias = newParam("bias", l.units, 0)
	glorotUniform(l.kernel.Value, l.in, l.units, rng)
	return Shape{l.units}, nil
}

func (l *DenseLayer) Forward(x [][]float64, _ bool) [][]float64 {
	out := newBatch(len(x), l.units)
	w := l.kernel.Value
	for b, row := range x {
		z := out[b]
		copy(z, l.bias.Value)
		for i, v := range row {
			if v != 0 {
				floats.AddScaled(z, v, w[i*l.units:(i+1)*l.units])
			}
		}
		l.activation.apply(z)
	}
	l.lastIn, l.lastOut = x, out
	return out
}

func (l *DenseLayer) Backward(grad [][]float64) [][]float64 {
	dx := newBatch(len(grad), l.in)
	w, dw := l.kernel.Value, l.kernel.Grad
	dz := make([]float64, l.units)
	for b := range grad {
		copy(dz, grad[b])
		l.activation.scaleByDerivative(dz, l.lastOut[b])
		floats.Add(l.bias.Grad, dz)
		for i, v := range l.lastIn[b] {
			row := w[i*l.units : (i+1)*l.units]
			dx[b][i] = floats.Dot(row, dz)
			if v != 0 {
				floats.AddScaled(dw[i*l.units:(i+1)*l.units], v, dz)
			}
		}
	}
	return dx
}

func (l *DenseLayer) Params() []*Param { return []*Param{l.kernel, l.bias} }

// FlattenLayer reshapes to one dimension. Rows are already flat, so only the
// shape changes.
type FlattenLayer struct{}

// Flatten returns a flatten layer.
func Flatten() *FlattenLayer { return &FlattenLayer{} }

func (l *FlattenLayer) Kind() string { return "Flatten" }

func (l *FlattenLayer) Build(in Shape, _ *rand.Rand) (Shape, error) {
	return Shape{in.Size()}, nil
}

func (l *FlattenLayer) Forward(x [][]float64, _ bool) [][]float64 { return x }
func (l *FlattenLayer) Backward(grad [][]float64) [][]float64   { return grad }
func (l *FlattenLayer) Params() []*Param                        { return nil }

// DropoutLayer zeroes a fraction of its inputs while training and rescales
// the rest so the expected activation is unchanged.
type DropoutLayer struct {
	rate float64
	rng  *rand.Rand
	mask [][]float64
}

// Dropout returns a dropout layer dropping the given fraction.
func Dropout(rate float64) *DropoutLayer {
	return &DropoutLayer{rate: rate}
}

func (l *DropoutLayer) Kind() string { return "Dropout" }

func (l *DropoutLayer) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if l.rate < 0 || l.rate >= 1 {
		return nil, buildErr("dropout rate must be in [0, 1), got %g", l.rate)
	}
	l.rng = rng
	return in, nil
}

func (l *DropoutLayer) Forward(x [][]float64, training bool) [][]float64 {
	if !training || l.rate == 0 || len(x) == 0 {
		l.mask = nil
		return x
	}
	keep := 1 / (1 - l.rate)
	out := newBatch(len(x), len(x[0]))
	l.mask = newBatch(len(x), len(x[0]))
	for b, row := range x {
		for i, v := range row {
			if l.rng.Float64() >= l.rate {
				l.mask[b][i] = keep
				out[b][i] = v * keep
			}
		}
	}
	return out
}

func (l *DropoutLayer) Backward(grad [][]float64) [][]float64 {
	if l.mask == nil {
		return grad
	}
	dx := newBatch(len(grad), len(grad[0]))
	for b := range grad {
		floats.MulTo(dx[b], grad[b], l.mask[b])
	}
	return dx
}

func (l *DropoutLayer) Params() []*Param { return nil }

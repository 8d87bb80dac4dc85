package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

func stepsAndChannels(in Shape) (int, int, error) {
	switch len(in) {
	case 1:
		return in[0], 1, nil
	case 2:
		return in[0], in[1], nil
	}
	return 0, 0, buildErr("expected a (steps, channels) input, got %v", in)
}

// Conv1DLayer is a one-dimensional convolution with valid padding.
type Conv1DLayer struct {
	filters    int
	kernelSize int
	stride     int
	activation Activation
	l2         float64

	steps, channels, outSteps int
	// kernel is (kernelSize·channels) × filters, row-major, so a window of
	// the input multiplies it like a dense layer.
	kernel  *Param
	bias    *Param
	lastIn  [][]float64
	lastOut [][]float64
}

// Conv1D returns a convolution layer. A stride below one is treated as one.
func Conv1D(filters, kernelSize, stride int, activation Activation, l2 float64) *Conv1DLayer {
	return &Conv1DLayer{
		filters:    filters,
		kernelSize: kernelSize,
		stride:     max(stride, 1),
		activation: activation,
		l2:         l2,
	}
}

func (l *Conv1DLayer) Kind() string { return "Conv1D" }

func (l *Conv1DLayer) Build(in Shape, rng *rand.Rand) (Shape, error) {
	steps, channels, err := stepsAndChannels(in)
	if err != nil {
		return nil, err
	}
	if l.filters <= 0 || l.kernelSize <= 0 {
		return nil, buildErr("conv1d needs positive filters and kernel size, got %d and %d", l.filters, l.kernelSize)
	}
	if steps < l.kernelSize {
		return nil, buildErr("conv1d kernel %d is longer than its input of %d steps", l.kernelSize, steps)
	}
	l.steps, l.channels = steps, channels
	l.outSteps = (steps-l.kernelSize)/l.stride + 1
	rows := l.kernelSize * channels
	l.kernel = newParam("kernel", rows*l.filters, l.l2)
	l.bias = newParam("bias", l.filters, 0)
	glorotUniform(l.kernel.Value, rows, l.kernelSize*l.filters, rng)
	return Shape{l.outSteps, l.filters}, nil
}

func (l *Conv1DLayer) window(row []float64, t int) []float64 {
	start := t * l.stride * l.channels
	return row[start : start+l.kernelSize*l.channels]
}

func (l *Conv1DLayer) Forward(x [][]float64, _ bool) [][]float64 {
	out := newBatch(len(x), l.outSteps*l.filters)
	w := l.kernel.Value
	for b, row := range x {
		for t := range l.outSteps {
			z := out[b][t*l.filters : (t+1)*l.filters]
			copy(z, l.bias.Value)
			for r, v := range l.window(row, t) {
				if v != 0 {
					floats.AddScaled(z, v, w[r*l.filters:(r+1)*l.filters])
				}
			}
		}
		l.activation.apply(out[b])
	}
	l.lastIn, l.lastOut = x, out
	return out
}

func (l *Conv1DLayer) Backward(grad [][]float64) [][]float64 {
	dx := newBatch(len(grad), l.steps*l.channels)
	w, dw := l.kernel.Value, l.kernel.Grad
	dz := make([]float64, l.outSteps*l.filters)
	for b := range grad {
		copy(dz, grad[b])
		l.activation.scaleByDerivative(dz, l.lastOut[b])
		for t := range l.outSteps {
			g := dz[t*l.filters : (t+1)*l.filters]
			floats.Add(l.bias.Grad, g)
			in := l.window(l.lastIn[b], t)
			din := l.window(dx[b], t)
			for r, v := range in {
				din[r] += floats.Dot(w[r*l.filters:(r+1)*l.filters], g)
				if v != 0 {
					floats.AddScaled(dw[r*l.filters:(r+1)*l.filters], v, g)
				}
			}
		}
	}
	return dx
}

func (l *Conv1DLayer) Params() []*Param { return []*Param{l.kernel, l.bias} }

// MaxPooling1DLayer takes the maximum over non-overlapping windows of each
// channel. Trailing steps that do not fill a window are dropped.
type MaxPooling1DLayer struct {
	pool int

	steps, channels, outSteps int
	// argmax holds, per output value, the input index that produced it.
	argmax [][]int
}

// MaxPooling1D returns a pooling layer whose stride equals its window.
func MaxPooling1D(pool int) *MaxPooling1DLayer {
	return &MaxPooling1DLayer{pool: pool}
}

func (l *MaxPooling1DLayer) Kind() string { return "MaxPooling1D" }

func (l *MaxPooling1DLayer) Build(in Shape, _ *rand.Rand) (Shape, error) {
	steps, channels, err := stepsAndChannels(in)
	if err != nil {
		return nil, err
	}
	if l.pool <= 0 || steps < l.pool {
		return nil, buildErr("pool size %d does not fit %d steps", l.pool, steps)
	}
	l.steps, l.channels = steps, channels
	l.outSteps = steps / l.pool
	return Shape{l.outSteps, channels}, nil
}

func (l *MaxPooling1DLayer) Forward(x [][]float64, _ bool) [][]float64 {
	n := l.outSteps * l.channels
	out := newBatch(len(x), n)
	l.argmax = make([][]int, len(x))
	for b, row := range x {
		idx := make([]int, n)
		for t := range l.outSteps {
			for c := range l.channels {
				best, bestAt := math.Inf(-1), -1
				for j := range l.pool {
					at := (t*l.pool+j)*l.channels + c
					if row[at] > best || bestAt < 0 {
						best, bestAt = row[at], at
					}
				}
				out[b][t*l.channels+c] = best
				idx[t*l.channels+c] = bestAt
			}
		}
		l.argmax[b] = idx
	}
	return out
}

func (l *MaxPooling1DLayer) Backward(grad [][]float64) [][]float64 {
	dx := newBatch(len(grad), l.steps*l.channels)
	for b := range grad {
		for i, at := range l.argmax[b] {
			dx[b][at] += grad[b][i]
		}
	}
	return dx
}

func (l *MaxPooling1DLayer) Params() []*Param { return nil }

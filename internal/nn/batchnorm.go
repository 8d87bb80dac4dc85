package nn

import (
	"math"
	"math/rand/v2"
)

// Batch normalization defaults.
const (
	DefaultBatchNormMomentum = 0.99
	DefaultBatchNormEpsilon  = 1e-3
)

// BatchNormLayer normalizes each feature along the last axis with batch
// statistics while training and moving averages at inference.
type BatchNormLayer struct {
	momentum float64
	epsilon  float64

	features  int
	positions int // values per sample that share one feature's statistics
	gamma     *Param
	beta      *Param

	movingMean []float64
	movingVar  []float64

	xhat   [][]float64
	invStd []float64
}

// BatchNormalization returns a batch normalization layer with the default
// momentum and epsilon.
func BatchNormalization() *BatchNormLayer {
	return &BatchNormLayer{momentum: DefaultBatchNormMomentum, epsilon: DefaultBatchNormEpsilon}
}

func (l *BatchNormLayer) Kind() string { return "BatchNormalization" }

func (l *BatchNormLayer) Build(in Shape, _ *rand.Rand) (Shape, error) {
	if in.Size() <= 0 {
		return nil, buildErr("batch normalization input %v has no values", in)
	}
	l.features = in[len(in)-1]
	l.positions = in.Size() / l.features
	l.gamma = newParam("gamma", l.features, 0)
	l.beta = newParam("beta", l.features, 0)
	l.movingMean = make([]float64, l.features)
	l.movingVar = make([]float64, l.features)
	for i := range l.features {
		l.gamma.Value[i] = 1
		l.movingVar[i] = 1
	}
	return in, nil
}

// MovingStatistics returns copies of the inference mean and variance.
func (l *BatchNormLayer) MovingStatistics() (mean, variance []float64) {
	return append([]float64(nil), l.movingMean...), append([]float64(nil), l.movingVar...)
}

func (l *BatchNormLayer) Forward(x [][]float64, training bool) [][]float64 {
	if len(x) == 0 {
		return x
	}
	f := l.features
	out := newBatch(len(x), f*l.positions)
	if !training {
		for b, row := range x {
			for i, v := range row {
				c := i % f
				xh := (v - l.movingMean[c]) / math.Sqrt(l.movingVar[c]+l.epsilon)
				out[b][i] = l.gamma.Value[c]*xh + l.beta.Value[c]
			}
		}
		return out
	}

	n := float64(len(x) * l.positions)
	mean := make([]float64, f)
	variance := make([]float64, f)
	for _, row := range x {
		for i, v := range row {
			mean[i%f] += v
		}
	}
	for c := range mean {
		mean[c] /= n
	}
	for _, row := range x {
		for i, v := range row {
			d := v - mean[i%f]
			variance[i%f] += d * d
		}
	}
	l.invStd = make([]float64, f)
	for c := range variance {
		variance[c] /= n
		l.invStd[c] = 1 / math.Sqrt(variance[c]+l.epsilon)
		l.movingMean[c] = l.momentum*l.movingMean[c] + (1-l.momentum)*mean[c]
		l.movingVar[c] = l.momentum*l.movingVar[c] + (1-l.momentum)*variance[c]
	}

	l.xhat = newBatch(len(x), f*l.positions)
	for b, row := range x {
		for i, v := range row {
			c := i % f
			xh := (v - mean[c]) * l.invStd[c]
			l.xhat[b][i] = xh
			out[b][i] = l.gamma.Value[c]*xh + l.beta.Value[c]
		}
	}
	return out
}

func (l *BatchNormLayer) Backward(grad [][]float64) [][]float64 {
	if len(grad) == 0 {
		return grad
	}
	f := l.features
	n := float64(len(grad) * l.positions)
	sumDy := make([]float64, f)
	sumDyXhat := make([]float64, f)
	for b, row := range grad {
		for i, g := range row {
			c := i % f
			sumDy[c] += g
			sumDyXhat[c] += g * l.xhat[b][i]
		}
	}
	for c := range f {
		l.beta.Grad[c] += sumDy[c]
		l.gamma.Grad[c] += sumDyXhat[c]
	}

	dx := newBatch(len(grad), f*l.positions)
	for b, row := range grad {
		for i, g := range row {
			c := i % f
			scale := l.gamma.Value[c] * l.invStd[c] / n
			dx[b][i] = scale * (n*g - sumDy[c] - l.xhat[b][i]*sumDyXhat[c])
		}
	}
	return dx
}

func (l *BatchNormLayer) Params() []*Param { return []*Param{l.gamma, l.beta} }

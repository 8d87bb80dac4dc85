package nn

import "math"

// Activation is an element-wise output non-linearity.
type Activation int

const (
	Linear Activation = iota
	Tanh
	Sigmoid
	ReLU
)

func (a Activation) String() string {
	switch a {
	case Linear:
		return "linear"
	case Tanh:
		return "tanh"
	case Sigmoid:
		return "sigmoid"
	case ReLU:
		return "relu"
	}
	return "unknown"
}

func (a Activation) apply(v []float64) {
	switch a {
	case Tanh:
		for i, x := range v {
			v[i] = math.Tanh(x)
		}
	case Sigmoid:
		for i, x := range v {
			v[i] = 1 / (1 + math.Exp(-x))
		}
	case ReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	}
}

// scaleByDerivative multiplies grad by the activation derivative, written in
// terms of the activated output y.
func (a Activation) scaleByDerivative(grad, y []float64) {
	switch a {
	case Tanh:
		for i := range grad {
			grad[i] *= 1 - y[i]*y[i]
		}
	case Sigmoid:
		for i := range grad {
			grad[i] *= y[i] * (1 - y[i])
		}
	case ReLU:
		for i := range grad {
			if y[i] <= 0 {
				grad[i] = 0
			}
		}
	}
}

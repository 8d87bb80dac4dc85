// Package nn is a small sequential neural network library: dense,
// one-dimensional convolution, pooling, batch normalization and dropout
// layers trained with Adam on a weighted mean squared error.
//
// Samples are flat []float64 rows. Convolutional layers read a row as
// [steps][channels], channel fastest.
package nn

import (
	"fmt"
	"strings"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// GetLogger returns the nn module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("nn")
}

// Shape is the per-sample shape of a layer's input or output.
type Shape []int

// Size returns the number of values in one sample.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Param is a trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
	// L2 is the weight of the L2 penalty added to the loss for this tensor.
	L2 float64
}

func newParam(name string, n int, l2 float64) *Param {
	return &Param{Name: name, Value: make([]float64, n), Grad: make([]float64, n), L2: l2}
}

func buildErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("nn").
		Category(errors.CategoryModelBuild).
		Build()
}

func trainErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("nn").
		Category(errors.CategoryModelTraining).
		Build()
}

func newBatch(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out
}

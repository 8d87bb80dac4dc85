package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/errors"
)

func randomBatch(rng *rand.Rand, rows, cols int) [][]float64 {
	out := newBatch(rows, cols)
	for _, row := range out {
		for i := range row {
			row[i] = 2*rng.Float64() - 1
		}
	}
	return out
}

func numericLoss(m *Model, x, y [][]float64, w []float64) float64 {
	return weightedMSE(m.forward(x, true), y, w, nil) + m.l2Penalty(false)
}

// checkGradients compares every analytic parameter gradient with a central
// finite difference of the training loss.
func checkGradients(t *testing.T, m *Model, x, y [][]float64, w []float64) {
	t.Helper()
	const h = 1e-5
	m.computeGradients(x, y, w)
	analytic := make([][]float64, len(m.params))
	for i, p := range m.params {
		analytic[i] = append([]float64(nil), p.Grad...)
	}

	for pi, p := range m.params {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			up := numericLoss(m, x, y, w)
			p.Value[i] = orig - h
			down := numericLoss(m, x, y, w)
			p.Value[i] = orig

			numeric := (up - down) / (2 * h)
			tol := 1e-6 + 1e-4*math.Abs(numeric)
			assert.InDelta(t, numeric, analytic[pi][i], tol,
				"param %d (%s) index %d", pi, p.Name, i)
		}
	}
}

func TestGradientsConvolutionalStack(t *testing.T) {
	t.Parallel()

	m, err := NewModel([]Layer{
		Input(12, 2),
		Conv1D(3, 3, 1, Tanh, 0.01),
		BatchNormalization(),
		MaxPooling1D(2),
		Conv1D(2, 2, 2, Sigmoid, 0),
		Flatten(),
		Dense(4, Tanh, 0.02),
		Dense(1, Sigmoid, 0),
	}, WithSeed(7))
	require.NoError(t, err)
	assert.Equal(t, Shape{1}, m.OutputShape())

	rng := rand.New(rand.NewPCG(3, 4))
	x := randomBatch(rng, 4, 24)
	y := [][]float64{{1}, {0}, {1}, {0}}
	checkGradients(t, m, x, y, []float64{1, 3, 0.5, 2})
}

func TestGradientsDenseStack(t *testing.T) {
	t.Parallel()

	m, err := NewModel([]Layer{
		Input(5),
		BatchNormalization(),
		Dense(6, Tanh, 0.001),
		Dense(3, Linear, 0),
	}, WithSeed(11))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(5, 6))
	x := randomBatch(rng, 6, 5)
	y := randomBatch(rng, 6, 3)
	checkGradients(t, m, x, y, nil)
}

func TestConvAndPoolShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		layers []Layer
		want   Shape
	}{
		{"strided conv", []Layer{Input(100, 2), Conv1D(16, 80, 4, Tanh, 0)}, Shape{6, 16}},
		{"unit stride conv", []Layer{Input(10, 3), Conv1D(4, 3, 1, Linear, 0)}, Shape{8, 4}},
		{"pool drops remainder", []Layer{Input(13, 2), MaxPooling1D(6)}, Shape{2, 2}},
		{"one-dimensional input is one channel", []Layer{Input(9), Conv1D(2, 3, 3, Linear, 0)}, Shape{3, 2}},
		{"flatten", []Layer{Input(4, 5), Flatten()}, Shape{20}},
		{"dense after conv", []Layer{Input(8, 2), Conv1D(3, 2, 2, ReLU, 0), Dense(5, Tanh, 0)}, Shape{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := NewModel(tt.layers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.OutputShape())
		})
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		layers []Layer
	}{
		{"no layers", nil},
		{"missing input", []Layer{Dense(3, Tanh, 0)}},
		{"empty input", []Layer{Input()}},
		{"kernel longer than input", []Layer{Input(4, 1), Conv1D(2, 5, 1, Tanh, 0)}},
		{"pool larger than input", []Layer{Input(3, 1), MaxPooling1D(4)}},
		{"dropout rate one", []Layer{Input(3), Dropout(1)}},
		{"zero units", []Layer{Input(3), Dense(0, Tanh, 0)}},
		{"conv on flat three-dimensional input", []Layer{Input(2, 2, 2), Conv1D(1, 1, 1, Tanh, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewModel(tt.layers)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryModelBuild))
		})
	}
}

func TestMaxPoolingRoutesGradientToMaximum(t *testing.T) {
	t.Parallel()

	l := MaxPooling1D(2)
	_, err := l.Build(Shape{4, 2}, nil)
	require.NoError(t, err)

	// steps: (1,8) (3,-1) (2,0) (-5,4)
	out := l.Forward([][]float64{{1, 8, 3, -1, 2, 0, -5, 4}}, true)
	assert.Equal(t, []float64{3, 8, 2, 4}, out[0])

	dx := l.Backward([][]float64{{10, 20, 30, 40}})
	assert.Equal(t, []float64{0, 20, 10, 0, 30, 0, 0, 40}, dx[0])
}

func TestDropout(t *testing.T) {
	t.Parallel()

	l := Dropout(0.5)
	_, err := l.Build(Shape{1000}, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	x := newBatch(1, 1000)
	for i := range x[0] {
		x[0][i] = 1
	}
	assert.Equal(t, x, l.Forward(x, false), "inference is the identity")

	out := l.Forward(x, true)
	dropped := 0
	for _, v := range out[0] {
		if v == 0 {
			dropped++
		} else {
			assert.InDelta(t, 2.0, v, 1e-12)
		}
	}
	assert.InDelta(t, 500, dropped, 80)

	grad := l.Backward(x)
	assert.Equal(t, out[0], grad[0], "gradient follows the same mask")
}

func TestBatchNormMovingStatistics(t *testing.T) {
	t.Parallel()

	l := BatchNormalization()
	_, err := l.Build(Shape{3, 2}, nil)
	require.NoError(t, err)

	// channel 0 always 4, channel 1 alternates 0 and 2
	x := [][]float64{{4, 0, 4, 2, 4, 0}, {4, 2, 4, 0, 4, 2}}
	out := l.Forward(x, true)
	for b := range out {
		assert.InDelta(t, 0, out[b][0], 1e-9, "constant channel normalizes to zero")
	}

	mean, variance := l.MovingStatistics()
	assert.InDeltaSlice(t, []float64{0.04, 0.01}, mean, 1e-12)
	assert.InDeltaSlice(t, []float64{0.99, 0.99 + 0.01}, variance, 1e-12)

	inference := l.Forward([][]float64{{0, 0, 0, 0, 0, 0}}, false)
	assert.InDelta(t, -0.04/math.Sqrt(0.99+1e-3), inference[0][0], 1e-12)
}

func TestWeightedMSEAndAccuracy(t *testing.T) {
	t.Parallel()

	out := [][]float64{{0.9}, {0.2}, {0.6}}
	truth := [][]float64{{1}, {1}, {0.5}}
	grad := newBatch(3, 1)

	loss := weightedMSE(out, truth, []float64{2, 1, 1}, grad)
	assert.InDelta(t, (2*0.01+0.64+0.01)/3, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{2 * 2 * -0.1 / 3}, grad[0], 1e-12)
	assert.InDeltaSlice(t, []float64{2 * -0.8 / 3}, grad[1], 1e-12)

	assert.InDelta(t, 1.0/3, binaryAccuracy(out, truth), 1e-12, "soft truths never match")
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	t.Parallel()

	p := newParam("w", 2, 0)
	p.Grad[0], p.Grad[1] = 3, -0.5

	a := NewAdam(DefaultAdamConfig())
	a.Step([]*Param{p})
	assert.Equal(t, 1, a.Steps())
	assert.InDelta(t, -1e-3, p.Value[0], 1e-8)
	assert.InDelta(t, 1e-3, p.Value[1], 1e-8)
}

func TestActivationNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "linear", Linear.String())
	assert.Equal(t, "tanh", Tanh.String())
	assert.Equal(t, "sigmoid", Sigmoid.String())
	assert.Equal(t, "relu", ReLU.String())
	assert.Equal(t, "(100000, 2)", Shape{100000, 2}.String())
	assert.Equal(t, 200000, Shape{100000, 2}.Size())
}

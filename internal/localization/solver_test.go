package localization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// chamberSensors is the four-piezo layout used by the bubble-chamber scripts.
var chamberSensors = []Point{{5, 5, 0}, {-5, -5, 0}, {3, -3, 0}, {-3, 3, 0}}

// volumeSensors surround the origin so every axis is constrained.
var volumeSensors = []Point{{5, 5, 0}, {-5, -5, 0}, {3, -3, 0}, {-3, 3, 0}, {0, 0, 6}, {2, 1, -4}}

func mustGeometry(t testing.TB, sensors []Point, speed float64) *Geometry {
	t.Helper()
	g, err := NewGeometry(sensors, speed)
	require.NoError(t, err)
	return g
}

func mustSolver(t testing.TB, g *Geometry, opts Options) *Solver {
	t.Helper()
	s, err := NewSolver(g, opts)
	require.NoError(t, err)
	return s
}

func TestRelativeTimingsMinimumIsZero(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, chamberSensors, 1)
	points := []Point{{0, 0, 0}, {1, -0.5, 0}, {12, 7, -3}, {5, 5, 0}, {-2.5, 0.1, 9}}
	for _, p := range points {
		rel := g.RelativeTimings(p)
		require.Len(t, rel, 4)
		assert.Zero(t, floats.Min(rel), "point %v", p)
		for _, v := range rel {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestTimesOfFlightScaleWithSpeed(t *testing.T) {
	t.Parallel()

	slow := mustGeometry(t, chamberSensors, 1)
	fast := mustGeometry(t, chamberSensors, 4)
	p := Point{1, 2, 3}

	a := slow.TimesOfFlight(p)
	b := fast.TimesOfFlight(p)
	for i := range a {
		assert.InDelta(t, a[i]/4, b[i], 1e-12)
	}
	assert.InDelta(t, math.Sqrt(16+9+9), a[0], 1e-12)
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sensors []Point
		speed   float64
		truth   Point
		at      Point
	}{
		{"planar", chamberSensors, 1, Point{1, -0.5, 0}, Point{0.7, -1.3, 0.4}},
		{"volume", volumeSensors, 1.5, Point{0.8, -0.6, 1.2}, Point{-0.4, 0.9, -0.7}},
		{"far", volumeSensors, 1, Point{2, 2, 2}, Point{15, -8, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := mustGeometry(t, tt.sensors, tt.speed)
			observed := g.RelativeTimings(tt.truth)

			grad := g.Gradient(tt.at, observed)
			const h = 1e-6
			for j := range 3 {
				plus, minus := tt.at, tt.at
				plus[j] += h
				minus[j] -= h
				numeric := (g.ResidualNorm(plus, observed) - g.ResidualNorm(minus, observed)) / (2 * h)
				assert.InDelta(t, numeric, grad[j], 1e-6, "component %d", j)
			}
		})
	}
}

func TestGradientZeroAtSolution(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, chamberSensors, 1)
	p := Point{1, -0.5, 0}
	assert.Equal(t, Point{}, g.Gradient(p, g.RelativeTimings(p)))
}

func TestSolveRoundTripOrigin(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, chamberSensors, 1)
	s := mustSolver(t, g, DefaultOptions())

	observed := g.RelativeTimings(Point{0, 0, 0})
	est, err := s.Solve(observed)
	require.NoError(t, err)

	for j := range 3 {
		assert.InDelta(t, 0, est.Position[j], 1e-3)
	}
	assert.LessOrEqual(t, est.Residual, DefaultResidualTolerance)
}

func TestSolveRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sensors []Point
		speed   float64
		initial Point
		truth   Point
	}{
		{"planar in plane", chamberSensors, 1, Point{}, Point{1, -0.5, 0}},
		{"planar off plane", chamberSensors, 1, Point{0, 0, 1}, Point{1, -0.5, 2}},
		{"planar scaled speed", chamberSensors, 3, Point{}, Point{-1.5, 0.75, 0}},
		{"volume", volumeSensors, 1, Point{}, Point{0.8, -0.6, 1.2}},
		{"volume negative z", volumeSensors, 2, Point{}, Point{-1, 0.5, -1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := mustGeometry(t, tt.sensors, tt.speed)
			opts := DefaultOptions()
			opts.InitialGuess = tt.initial
			s := mustSolver(t, g, opts)

			observed := g.RelativeTimings(tt.truth)
			est, err := s.Solve(observed)
			require.NoError(t, err)

			assert.InDelta(t, tt.truth[0], est.Position[0], 1e-3)
			assert.InDelta(t, tt.truth[1], est.Position[1], 1e-3)
			if g.Coplanar() {
				// mirror images across the sensor plane are indistinguishable
				assert.InDelta(t, math.Abs(tt.truth[2]), math.Abs(est.Position[2]), 1e-3)
			} else {
				assert.InDelta(t, tt.truth[2], est.Position[2], 1e-3)
			}

			// the forward model of the answer reproduces the input
			back := g.RelativeTimings(est.Position)
			for i := range observed {
				assert.InDelta(t, observed[i], back[i], 1e-6)
			}
			assert.InDelta(t, g.ResidualNorm(est.Position, observed), est.Residual, 1e-15)
			assert.True(t, est.WithinTolerance)
			assert.NotEmpty(t, est.Status)
		})
	}
}

func TestSolveDeterministic(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, volumeSensors, 1)
	s := mustSolver(t, g, DefaultOptions())
	observed := g.RelativeTimings(Point{0.3, 1.1, -0.2})

	first, err := s.Solve(observed)
	require.NoError(t, err)
	for range 5 {
		again, err := s.Solve(observed)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSolveRejectsInvalidObservations(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, chamberSensors, 1)
	s := mustSolver(t, g, DefaultOptions())

	tests := []struct {
		name     string
		observed []float64
		index    int
	}{
		{"too short", []float64{0, 1, 2}, -1},
		{"too long", []float64{0, 1, 2, 3, 4}, -1},
		{"empty", nil, -1},
		{"nan", []float64{0, math.NaN(), 1, 1}, 1},
		{"inf", []float64{0, 1, math.Inf(1), 1}, 2},
		{"negative", []float64{0, 1, 1, -0.5}, 3},
		{"not normalized", []float64{1, 2, 3, 4}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Solve(tt.observed)
			require.Error(t, err)

			var invalid *InvalidInputError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.index, invalid.Index)
			assert.True(t, errors.Is(err, ErrInvalidInput))
			assert.Equal(t, errors.CategoryValidation, invalid.ErrorCategory())
		})
	}
}

func TestSolveAllZeroObservation(t *testing.T) {
	t.Parallel()

	// no point is equidistant from all four piezos
	g := mustGeometry(t, chamberSensors, 1)
	s := mustSolver(t, g, DefaultOptions())

	est, err := s.Solve([]float64{0, 0, 0, 0})
	if err != nil {
		var failure *ConvergenceFailure
		require.True(t, errors.As(err, &failure), "unexpected error %v", err)
		assert.True(t, errors.Is(err, ErrConvergence))
		assert.True(t, finitePoint(failure.Best))
		assert.False(t, math.IsNaN(failure.Residual))
		return
	}
	assert.True(t, finitePoint(est.Position))
	assert.False(t, math.IsNaN(est.Residual))
	assert.Greater(t, est.Residual, 0.0)
}

func TestSolveRestartsAfterFalseMinimum(t *testing.T) {
	t.Parallel()

	// from the origin BFGS settles near (0.14, -0.72, 0), where the wrong
	// sensor arrives first
	for _, speed := range []float64{1, 3} {
		g := mustGeometry(t, chamberSensors, speed)
		s := mustSolver(t, g, DefaultOptions())
		truth := Point{-1.5, 0.75, 0}

		est, err := s.Solve(g.RelativeTimings(truth))
		require.NoError(t, err, "speed %v", speed)
		assert.True(t, est.WithinTolerance)
		assert.Greater(t, est.Attempts, 1)
		assert.GreaterOrEqual(t, est.Evaluations, est.Iterations)
		for j := range 3 {
			assert.InDelta(t, truth[j], est.Position[j], 1e-3, "speed %v component %d", speed, j)
		}
	}
}

func TestStartPoints(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, chamberSensors, 1)
	s := mustSolver(t, g, DefaultOptions())

	// sensor 0 arrives first; the pair midpoint at the origin repeats the
	// initial guess
	want := []Point{{0, 0, 0}, {2.5, 2.5, 0}, {4, 1, 0}, {1, 4, 0}, {-1, -4, 0}, {-4, -1, 0}}
	assert.Equal(t, want, s.startPoints([]float64{0, 2.83, 1.41, 1.41}))

	assert.Equal(t, Point{-2.5, -2.5, 0}, s.startPoints([]float64{1, 0, 1, 1})[1])
}

func TestSolveObservationWithoutInPlaneFit(t *testing.T) {
	t.Parallel()

	// The exact solution lies far below the sensor plane, near
	// (424, 424, -2939). Every start is in the plane and the gradient has no
	// out-of-plane component there, so the best stationary point is returned
	// without claiming a fit.
	g := mustGeometry(t, chamberSensors, 1)
	s := mustSolver(t, g, DefaultOptions())
	observed := []float64{0, 2.83, 1.41, 1.41}

	est, err := s.Solve(observed)
	require.NoError(t, err)
	assert.False(t, est.WithinTolerance)
	assert.Equal(t, 6, est.Attempts)
	assert.Zero(t, est.Position[2])
	assert.InDelta(t, 2.5243, est.Residual, 1e-3)
	// the two mirror-image minima across x = y
	assert.InDelta(t, 2.6558, est.Position[0]+est.Position[1], 1e-3)
	assert.InDelta(t, g.ResidualNorm(est.Position, observed), est.Residual, 1e-12)
}

func TestSolveIterationCap(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, volumeSensors, 1)
	opts := DefaultOptions()
	opts.MaxIterations = 1
	opts.InitialGuess = Point{30, -30, 30}
	s := mustSolver(t, g, opts)

	observed := g.RelativeTimings(Point{0.5, 0.5, 0.5})
	_, err := s.Solve(observed)
	require.Error(t, err)

	var failure *ConvergenceFailure
	require.True(t, errors.As(err, &failure))
	assert.True(t, finitePoint(failure.Best))
	assert.LessOrEqual(t, failure.Iterations, 1)
	assert.Greater(t, failure.Attempts, 1)
	assert.Greater(t, failure.Residual, DefaultResidualTolerance)
	assert.Equal(t, errors.CategoryConvergence, failure.ErrorCategory())
}

func TestNewSolverValidatesOptions(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, chamberSensors, 1)

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero iterations", func(o *Options) { o.MaxIterations = 0 }},
		{"negative evaluations", func(o *Options) { o.MaxEvaluations = -1 }},
		{"nan guess", func(o *Options) { o.InitialGuess[1] = math.NaN() }},
		{"negative tolerance", func(o *Options) { o.ResidualTolerance = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := NewSolver(g, opts)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}

	_, err := NewSolver(nil, DefaultOptions())
	require.Error(t, err)

	s := mustSolver(t, g, DefaultOptions())
	assert.Equal(t, 20*DefaultMaxIterations, s.Options().MaxEvaluations)
}

func TestNormalizeTimings(t *testing.T) {
	t.Parallel()

	out, err := NormalizeTimings([]float64{3.5, 2, 4, 2.25})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0, 2, 0.25}, out)

	_, err = NormalizeTimings(nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeTimings([]float64{0, math.Inf(-1)})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLocate(t *testing.T) {
	t.Parallel()

	g := mustGeometry(t, volumeSensors, 1)
	est, err := g.Locate(g.RelativeTimings(Point{1, 1, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 1, est.Position[2], 1e-3)
}

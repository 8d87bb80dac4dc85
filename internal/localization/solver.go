package localization

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/observability/metrics"
)

// Defaults for Options. MaxIterations follows the usual 200 × dimension cap.
const (
	DefaultMaxIterations     = 600
	DefaultResidualTolerance = 1e-9
	DefaultGradientTolerance = 1e-12
	DefaultStallTolerance    = 1e-8

	// normalizedTolerance is how far from zero the earliest observed arrival may be.
	normalizedTolerance = 1e-12
)

// Options bound and terminate a solve.
type Options struct {
	// InitialGuess is the deterministic starting point. The origin by default.
	InitialGuess Point
	// MaxIterations caps major BFGS iterations.
	MaxIterations int
	// MaxEvaluations caps objective evaluations; zero means 20 × MaxIterations.
	MaxEvaluations int
	// ResidualTolerance stops the solve once the residual norm is at or below it.
	ResidualTolerance float64
	// GradientTolerance stops the solve once the infinity norm of the
	// gradient of half the squared residual falls below it.
	GradientTolerance float64
	// StallTolerance decides whether a line search that can make no further
	// progress stopped at a stationary point (accepted) or not (failure).
	StallTolerance float64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxIterations:     DefaultMaxIterations,
		ResidualTolerance: DefaultResidualTolerance,
		GradientTolerance: DefaultGradientTolerance,
		StallTolerance:    DefaultStallTolerance,
	}
}

func (o *Options) validate() error {
	for _, c := range o.InitialGuess {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("initial guess must be finite, got %v", o.InitialGuess)
		}
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", o.MaxIterations)
	}
	if o.MaxEvaluations < 0 {
		return fmt.Errorf("max evaluations must not be negative, got %d", o.MaxEvaluations)
	}
	if o.MaxEvaluations == 0 {
		o.MaxEvaluations = 20 * o.MaxIterations
	}
	if o.ResidualTolerance < 0 || o.GradientTolerance < 0 || o.StallTolerance < 0 {
		return fmt.Errorf("tolerances must not be negative")
	}
	return nil
}

// Estimate is a solved position with its diagnostics. Nothing guarantees the
// position is unique; BFGS may settle in a local minimum.
type Estimate struct {
	Position    Point
	Residual    float64
	Iterations  int // of the attempt that produced Position
	Evaluations int // across all attempts
	Status      string
	// Attempts is the number of starting points tried.
	Attempts int
	// WithinTolerance reports whether Position reproduces the observation to
	// ResidualTolerance. A converged estimate without it is the best
	// stationary point found, not a fit.
	WithinTolerance bool
}

// Solver localizes bubbles for one Geometry. A Solver holds no mutable state
// and is safe for concurrent use.
type Solver struct {
	geometry *Geometry
	opts     Options
	metrics  *metrics.LocalizationMetrics
	log      logger.Logger
}

// SolverOption configures optional Solver collaborators.
type SolverOption func(*Solver)

// WithMetrics records every solve in m.
func WithMetrics(m *metrics.LocalizationMetrics) SolverOption {
	return func(s *Solver) { s.metrics = m }
}

// WithLogger sets the solver's logger.
func WithLogger(l logger.Logger) SolverOption {
	return func(s *Solver) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSolver returns a Solver for g.
func NewSolver(g *Geometry, opts Options, options ...SolverOption) (*Solver, error) {
	if g == nil {
		return nil, errors.Newf("localization: nil geometry").
			Component("localization").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := opts.validate(); err != nil {
		return nil, errors.New(err).
			Component("localization").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s := &Solver{
		geometry: g,
		opts:     opts,
		log:      logger.Global().Module("localization"),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Geometry returns the solver's sensor configuration.
func (s *Solver) Geometry() *Geometry { return s.geometry }

// Options returns the effective options.
func (s *Solver) Options() Options { return s.opts }

// ValidateObservation checks observed against the geometry without solving.
func (s *Solver) ValidateObservation(observed []float64) error {
	if len(observed) != s.geometry.NumSensors() {
		return &InvalidInputError{
			Reason: fmt.Sprintf("got %d timings for %d sensors", len(observed), s.geometry.NumSensors()),
			Index:  -1,
		}
	}
	for i, t := range observed {
		switch {
		case math.IsNaN(t) || math.IsInf(t, 0):
			return &InvalidInputError{Reason: fmt.Sprintf("non-finite timing %v", t), Index: i}
		case t < 0:
			return &InvalidInputError{Reason: fmt.Sprintf("negative timing %v", t), Index: i}
		}
	}
	if m := floats.Min(observed); m > normalizedTolerance {
		return &InvalidInputError{
			Reason: fmt.Sprintf("earliest arrival is %v, not zero; normalize timings first", m),
			Index:  -1,
		}
	}
	return nil
}

// Solve finds the position whose relative timings best match observed.
//
// The observation must have one element per sensor, be finite and
// non-negative, and have its minimum at zero; otherwise Solve returns an
// *InvalidInputError without optimizing.
//
// BFGS minimizes half the squared residual norm, which has the same
// minimizers as the norm and stays smooth where the residual vanishes. The
// first attempt starts at InitialGuess. When it ends above ResidualTolerance,
// Solve restarts from the earliest-arriving sensor pulled halfway toward the
// sensor centroid, then from the midpoint of every sensor pair in index
// order, and stops at the first attempt within tolerance. Among converged
// attempts the lowest residual wins. Only when no attempt converged does
// Solve return a *ConvergenceFailure carrying the lowest-residual iterate.
//
// With coplanar sensors every restart lies in the sensor plane, where the
// gradient has no out-of-plane component, so only InitialGuess can reach a
// position off the plane.
func (s *Solver) Solve(observed []float64) (Estimate, error) {
	start := time.Now()

	if err := s.ValidateObservation(observed); err != nil {
		s.metrics.RecordSolve(metrics.StatusInvalid, 0, 0, time.Since(start))
		return Estimate{}, err
	}

	est, err := s.solveFromStarts(observed)

	status := metrics.StatusConverged
	if err != nil {
		status = metrics.StatusNotConverged
	}
	s.metrics.RecordSolve(status, est.Iterations, est.Residual, time.Since(start))
	s.log.Trace("solve finished",
		logger.String("status", est.Status),
		logger.Int("iterations", est.Iterations),
		logger.Int("evaluations", est.Evaluations),
		logger.Float64("residual", est.Residual),
		logger.Duration("elapsed", time.Since(start)))

	return est, err
}

func (s *Solver) solveFromStarts(observed []float64) (Estimate, error) {
	var (
		best, failed       Estimate
		haveBest, haveFail bool
		failErr            error
		attempts, evals    int
	)
	for _, x0 := range s.startPoints(observed) {
		est, err := s.minimize(observed, x0)
		attempts++
		evals += est.Evaluations
		if err != nil {
			if !haveFail || est.Residual < failed.Residual {
				failed, failErr, haveFail = est, err, true
			}
		} else if !haveBest || est.Residual < best.Residual {
			best, haveBest = est, true
		}
		if est.Residual <= s.opts.ResidualTolerance {
			break
		}
	}
	if attempts > 1 {
		s.log.Trace("solve restarted",
			logger.Int("attempts", attempts),
			logger.Bool("converged", haveBest))
	}

	if !haveBest {
		failed.Attempts, failed.Evaluations = attempts, evals
		var cf *ConvergenceFailure
		if errors.As(failErr, &cf) {
			cf.Attempts = attempts
		}
		return failed, failErr
	}
	best.Attempts, best.Evaluations = attempts, evals
	best.WithinTolerance = best.Residual <= s.opts.ResidualTolerance
	return best, nil
}

// startPoints returns InitialGuess followed by the restart schedule, without
// duplicates.
func (s *Solver) startPoints(observed []float64) []Point {
	sensors := s.geometry.sensors
	n := len(sensors)

	var centroid Point
	for _, p := range sensors {
		for j := range 3 {
			centroid[j] += p[j]
		}
	}
	for j := range 3 {
		centroid[j] /= float64(n)
	}
	first := sensors[floats.MinIdx(observed)]

	candidates := make([]Point, 0, 2+n*(n-1)/2)
	candidates = append(candidates, s.opts.InitialGuess, midpoint(first, centroid))
	for i := range n {
		for j := i + 1; j < n; j++ {
			candidates = append(candidates, midpoint(sensors[i], sensors[j]))
		}
	}

	starts := candidates[:0]
	for _, c := range candidates {
		if !slices.Contains(starts, c) {
			starts = append(starts, c)
		}
	}
	return starts
}

func midpoint(a, b Point) Point {
	return Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2, (a[2] + b[2]) / 2}
}

func (s *Solver) minimize(observed []float64, x0 Point) (Estimate, error) {
	g := s.geometry

	best := x0
	bestF := math.Inf(1)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p := Point{x[0], x[1], x[2]}
			f := g.ResidualNorm(p, observed)
			if f < bestF {
				best, bestF = p, f
			}
			return 0.5 * f * f
		},
		Grad: func(grad, x []float64) {
			gr, _ := g.halfSquaredGradient(Point{x[0], x[1], x[2]}, observed)
			copy(grad, gr[:])
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: s.opts.GradientTolerance,
		MajorIterations:   s.opts.MaxIterations,
		FuncEvaluations:   s.opts.MaxEvaluations,
		Converger: &residualConverger{
			tolerance: s.opts.ResidualTolerance,
			fallback: optimize.FunctionConverge{
				Relative:   1e-12,
				Iterations: 20,
			},
		},
	}

	result, err := optimize.Minimize(problem, x0[:], settings, &optimize.BFGS{})
	if result == nil {
		return Estimate{Position: best, Residual: bestF}, &ConvergenceFailure{
			Best:     best,
			Residual: bestF,
			Reason:   fmt.Sprintf("optimizer error: %v", err),
		}
	}

	est := Estimate{
		Position:    Point{result.X[0], result.X[1], result.X[2]},
		Iterations:  result.Stats.MajorIterations,
		Evaluations: result.Stats.FuncEvaluations,
		Status:      result.Status.String(),
	}

	if !finitePoint(est.Position) {
		est.Position, est.Residual = best, bestF
		return est, &ConvergenceFailure{
			Best:       best,
			Residual:   bestF,
			Iterations: est.Iterations,
			Reason:     "non-finite iterate",
		}
	}
	est.Residual = g.ResidualNorm(est.Position, observed)

	switch result.Status {
	case optimize.Success, optimize.FunctionThreshold, optimize.GradientThreshold,
		optimize.FunctionConvergence, optimize.StepConvergence, optimize.MethodConverge:
		return est, nil
	case optimize.Failure:
		// a failed line search at a stationary point is a converged solve
		grad, _ := g.halfSquaredGradient(est.Position, observed)
		if est.Residual <= s.opts.ResidualTolerance || floats.Norm(grad[:], math.Inf(1)) <= s.opts.StallTolerance {
			return est, nil
		}
	}

	if bestF < est.Residual {
		est.Position, est.Residual = best, bestF
	}
	reason := result.Status.String()
	if err != nil {
		reason = err.Error()
	}
	return est, &ConvergenceFailure{
		Best:       est.Position,
		Residual:   est.Residual,
		Iterations: est.Iterations,
		Reason:     reason,
	}
}

func finitePoint(p Point) bool {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// residualConverger stops once the residual norm reaches the tolerance and
// otherwise defers to function-value convergence. Location.F holds f²/2.
type residualConverger struct {
	tolerance float64
	fallback  optimize.FunctionConverge
}

func (c *residualConverger) Init(dim int) {
	c.fallback.Init(dim)
}

func (c *residualConverger) Converged(loc *optimize.Location) optimize.Status {
	if math.Sqrt(2*loc.F) <= c.tolerance {
		return optimize.FunctionThreshold
	}
	return c.fallback.Converged(loc)
}

// Locate solves a single observation with default options.
func (g *Geometry) Locate(observed []float64) (Estimate, error) {
	s, err := NewSolver(g, DefaultOptions())
	if err != nil {
		return Estimate{}, err
	}
	return s.Solve(observed)
}

// NormalizeTimings returns a copy of times shifted so its minimum is zero.
func NormalizeTimings(times []float64) ([]float64, error) {
	if len(times) == 0 {
		return nil, &InvalidInputError{Reason: "empty timing vector", Index: -1}
	}
	for i, t := range times {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("non-finite timing %v", t), Index: i}
		}
	}
	out := make([]float64, len(times))
	copy(out, times)
	floats.AddConst(-floats.Min(out), out)
	return out, nil
}

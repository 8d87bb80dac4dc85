// Package localization estimates the 3-D position of a bubble from the
// relative times at which its acoustic signal reaches a set of piezo sensors.
//
// The forward model assumes straight-line propagation at a constant speed.
// Only timing differences are observable: every vector of times of flight is
// shifted so that its earliest arrival is zero, and the solver never tries to
// recover the absolute emission time.
package localization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// Point is a position in the chamber frame.
type Point [3]float64

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return floats.Norm(p[:], 2)
}

// ErrDegenerateGeometry is returned by NewGeometry when the sensor layout
// cannot constrain a position.
var ErrDegenerateGeometry = errors.NewStd("degenerate sensor geometry")

// Relative tolerance used for coincidence, collinearity and coplanarity tests.
const geometryTolerance = 1e-9

// Geometry is an immutable sensor configuration: piezo positions and the
// propagation speed. A Geometry is safe for concurrent use.
type Geometry struct {
	sensors  []Point
	speed    float64
	coplanar bool
}

// NewGeometry validates and copies a sensor configuration.
func NewGeometry(sensors []Point, speed float64) (*Geometry, error) {
	if len(sensors) < 2 {
		return nil, degenerate("need at least 2 sensors, got %d", len(sensors))
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return nil, degenerate("propagation speed must be positive and finite, got %v", speed)
	}

	scale := 0.0
	for i, s := range sensors {
		for _, c := range s {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, degenerate("sensor %d has non-finite coordinate %v", i, s)
			}
		}
		scale = math.Max(scale, s.Norm())
	}
	if scale == 0 {
		scale = 1
	}

	for i := range sensors {
		for j := i + 1; j < len(sensors); j++ {
			if sensors[i].Sub(sensors[j]).Norm() <= geometryTolerance*scale {
				return nil, degenerate("sensors %d and %d coincide", i, j)
			}
		}
	}

	rank := affineRank(sensors, scale)
	if rank < 2 {
		return nil, degenerate("all %d sensors are collinear", len(sensors))
	}

	g := &Geometry{
		sensors:  make([]Point, len(sensors)),
		speed:    speed,
		coplanar: rank < 3,
	}
	copy(g.sensors, sensors)
	return g, nil
}

func degenerate(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: "+format, append([]any{ErrDegenerateGeometry}, args...)...)).
		Component("localization").
		Category(errors.CategoryConfiguration).
		Build()
}

// affineRank returns the dimension (0..3) of the affine hull of the sensors.
func affineRank(sensors []Point, scale float64) int {
	origin := sensors[0]
	tol := geometryTolerance * scale

	// first direction
	var u Point
	found := false
	for _, s := range sensors[1:] {
		d := s.Sub(origin)
		if d.Norm() > tol {
			u, found = d, true
			break
		}
	}
	if !found {
		return 0
	}

	// second direction, not parallel to u
	var n Point
	found = false
	for _, s := range sensors[1:] {
		c := cross(u, s.Sub(origin))
		if c.Norm() > tol*u.Norm() {
			n, found = c, true
			break
		}
	}
	if !found {
		return 1
	}

	// any sensor off the plane with normal n
	nn := n.Norm()
	for _, s := range sensors[1:] {
		d := s.Sub(origin)
		if math.Abs(floats.Dot(n[:], d[:]))/nn > tol {
			return 3
		}
	}
	return 2
}

func cross(a, b Point) Point {
	return Point{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// NumSensors returns the number of sensors.
func (g *Geometry) NumSensors() int { return len(g.sensors) }

// Speed returns the propagation speed.
func (g *Geometry) Speed() float64 { return g.speed }

// Sensor returns the position of sensor i.
func (g *Geometry) Sensor(i int) Point { return g.sensors[i] }

// Sensors returns a copy of the sensor positions.
func (g *Geometry) Sensors() []Point {
	out := make([]Point, len(g.sensors))
	copy(out, g.sensors)
	return out
}

// Coplanar reports whether all sensors lie in one plane. Positions mirrored
// across that plane produce identical timings, so the solver returns the
// solution on the side of its initial guess.
func (g *Geometry) Coplanar() bool { return g.coplanar }

package localization

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TimesOfFlight returns |p - s_i| / c for every sensor.
func (g *Geometry) TimesOfFlight(p Point) []float64 {
	tof := make([]float64, len(g.sensors))
	for i, s := range g.sensors {
		tof[i] = p.Sub(s).Norm() / g.speed
	}
	return tof
}

// RelativeTimings returns the times of flight shifted so the earliest
// arrival is exactly zero.
func (g *Geometry) RelativeTimings(p Point) []float64 {
	rel := g.TimesOfFlight(p)
	floats.AddConst(-floats.Min(rel), rel)
	return rel
}

// ResidualNorm is the solver objective: the Euclidean norm of
// RelativeTimings(p) - observed. observed must hold one value per sensor.
func (g *Geometry) ResidualNorm(p Point, observed []float64) float64 {
	rel := g.RelativeTimings(p)
	floats.Sub(rel, observed)
	return floats.Norm(rel, 2)
}

// Gradient returns the gradient of ResidualNorm at p. With r the residual
// vector, k the index of the earliest arrival and u_i = (p - s_i)/(c|p - s_i|),
//
//	∇f = (1/f) Σ r_i (u_i - u_k)
//
// The gradient is taken as zero where f is zero and u_i as zero at a sensor.
func (g *Geometry) Gradient(p Point, observed []float64) Point {
	grad, f := g.halfSquaredGradient(p, observed)
	if f == 0 {
		return Point{}
	}
	return Point{grad[0] / f, grad[1] / f, grad[2] / f}
}

// halfSquaredGradient returns ∇(f²/2) = Σ r_i (u_i - u_k) together with f.
func (g *Geometry) halfSquaredGradient(p Point, observed []float64) (Point, float64) {
	n := len(g.sensors)
	tof := make([]float64, n)
	units := make([]Point, n)
	for i, s := range g.sensors {
		d := p.Sub(s)
		dist := d.Norm()
		tof[i] = dist / g.speed
		if dist > 0 {
			scale := 1 / (g.speed * dist)
			units[i] = Point{d[0] * scale, d[1] * scale, d[2] * scale}
		}
	}

	k := floats.MinIdx(tof)
	minTOF := tof[k]

	var grad Point
	sumSq := 0.0
	for i := range n {
		r := tof[i] - minTOF - observed[i]
		sumSq += r * r
		for j := range 3 {
			grad[j] += r * (units[i][j] - units[k][j])
		}
	}
	return grad, math.Sqrt(sumSq)
}

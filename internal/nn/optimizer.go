package nn

import "math"

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*Param)
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the usual Adam settings.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{LearningRate: 1e-3, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

type adamState struct {
	m, v []float64
}

// Adam is the Adam optimizer with bias-corrected step size.
type Adam struct {
	cfg   AdamConfig
	steps int
	state map[*Param]*adamState
}

// NewAdam returns an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	return &Adam{cfg: cfg, state: make(map[*Param]*adamState)}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.steps }

func (a *Adam) Step(params []*Param) {
	a.steps++
	t := float64(a.steps)
	lr := a.cfg.LearningRate * math.Sqrt(1-math.Pow(a.cfg.Beta2, t)) / (1 - math.Pow(a.cfg.Beta1, t))
	for _, p := range params {
		st, ok := a.state[p]
		if !ok {
			st = &adamState{m: make([]float64, len(p.Value)), v: make([]float64, len(p.Value))}
			a.state[p] = st
		}
		for i, g := range p.Grad {
			st.m[i] = a.cfg.Beta1*st.m[i] + (1-a.cfg.Beta1)*g
			st.v[i] = a.cfg.Beta2*st.v[i] + (1-a.cfg.Beta2)*g*g
			p.Value[i] -= lr * st.m[i] / (math.Sqrt(st.v[i]) + a.cfg.Epsilon)
		}
	}
}

package events

import (
	"math"
)

// Cuts holds the chamber and fiducial-volume geometry, in millimetres.
// Z is measured along the jar axis and the radius from that axis.
type Cuts struct {
	ChamberRadius  float64 `mapstructure:"chamberradius" yaml:"chamberradius"`
	ChamberZMin    float64 `mapstructure:"chamberzmin" yaml:"chamberzmin"`
	ChamberZMax    float64 `mapstructure:"chamberzmax" yaml:"chamberzmax"`
	FiducialRadius float64 `mapstructure:"fiducialradius" yaml:"fiducialradius"`
	FiducialZMin   float64 `mapstructure:"fiducialzmin" yaml:"fiducialzmin"`
	FiducialZMax   float64 `mapstructure:"fiducialzmax" yaml:"fiducialzmax"`
}

// DefaultCuts approximates the PICO-60 jar.
func DefaultCuts() Cuts {
	return Cuts{
		ChamberRadius:  145,
		ChamberZMin:    -100,
		ChamberZMax:    600,
		FiducialRadius: 120,
		FiducialZMin:   0,
		FiducialZMax:   500,
	}
}

func radius(p [3]float64) float64 {
	return math.Hypot(p[0], p[1])
}

// InsideChamber is the wall cut: the position must be finite and inside the
// jar.
func (c Cuts) InsideChamber(e *BubbleEvent) bool {
	if !e.HasFinitePosition() {
		return false
	}
	p := e.Position
	return radius(p) <= c.ChamberRadius && p[2] >= c.ChamberZMin && p[2] <= c.ChamberZMax
}

// InsideFiducialVolume is the fiducial cut.
func (c Cuts) InsideFiducialVolume(e *BubbleEvent) bool {
	if !e.HasFinitePosition() {
		return false
	}
	p := e.Position
	return radius(p) <= c.FiducialRadius && p[2] >= c.FiducialZMin && p[2] <= c.FiducialZMax
}

// PassesValidationCuts accepts single-bubble events with a finite position and
// acoustic parameter.
func PassesValidationCuts(e *BubbleEvent) bool {
	if e.NumBubbles != 1 || !e.HasFinitePosition() {
		return false
	}
	return !math.IsNaN(e.AcousticParameter) && !math.IsInf(e.AcousticParameter, 0)
}

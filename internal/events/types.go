// Package events models bubble-chamber events and builds the training and
// validation arrays the networks consume.
package events

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// RunType identifies the source configuration of a run. The numeric values
// are the codes stored in the event tables.
type RunType int

const (
	LowBackground      RunType = 1
	AmericiumBeryllium RunType = 2
	Californium        RunType = 3
	Californium40cm    RunType = 4
	Californium60cm    RunType = 5
	Barium40cm         RunType = 6
	Barium100cm        RunType = 7
	Garbage            RunType = 99
)

var runTypeNames = map[RunType]string{
	LowBackground:      "low_background",
	AmericiumBeryllium: "ambe",
	Californium:        "cf",
	Californium40cm:    "cf_40cm",
	Californium60cm:    "cf_60cm",
	Barium40cm:         "ba_40cm",
	Barium100cm:        "ba_100cm",
	Garbage:            "garbage",
}

func (r RunType) String() string {
	if name, ok := runTypeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("runtype(%d)", int(r))
}

// ParseRunType accepts a configuration name such as "ambe" or "cf_40cm".
func ParseRunType(name string) (RunType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r, n := range runTypeNames {
		if n == name {
			return r, nil
		}
	}
	return 0, errors.Newf("unknown run type %q", name).
		Component("events").
		Category(errors.CategoryValidation).
		Build()
}

// ParseRunTypes parses a list of configuration names.
func ParseRunTypes(names []string) ([]RunType, error) {
	out := make([]RunType, 0, len(names))
	for _, n := range names {
		r, err := ParseRunType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// BubbleEvent is one recorded bubble-chamber event.
type BubbleEvent struct {
	Run     string
	Event   int
	RunType RunType
	// Position is the optically reconstructed (X, Y, Z) in millimetres.
	Position [3]float64
	// AcousticParameter is the logarithmic acoustic parameter.
	AcousticParameter float64
	// TimeZeros holds the per-piezo signal start times.
	TimeZeros   []float64
	PulseCounts []float64
	NumBubbles  int
	AudioPath   string
}

// IsAlpha reports whether the event is an alpha-decay candidate. Only
// low-background runs contain alphas in appreciable numbers.
func (e *BubbleEvent) IsAlpha() bool {
	return e.RunType == LowBackground
}

// AlphaTruth is 1 for alpha candidates and 0 otherwise.
func (e *BubbleEvent) AlphaTruth() float64 {
	if e.IsAlpha() {
		return 1
	}
	return 0
}

// HasFinitePosition reports whether all three coordinates are finite.
func (e *BubbleEvent) HasFinitePosition() bool {
	for _, v := range e.Position {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (e *BubbleEvent) Clone() BubbleEvent {
	c := *e
	c.TimeZeros = slices.Clone(e.TimeZeros)
	c.PulseCounts = slices.Clone(e.PulseCounts)
	return c
}

// Key identifies an event across copies.
func (e *BubbleEvent) Key() string {
	return fmt.Sprintf("%s/%d", e.Run, e.Event)
}

// CountByRunType tallies events per run type.
func CountByRunType(evs []BubbleEvent) map[RunType]int {
	counts := make(map[RunType]int)
	for i := range evs {
		counts[evs[i].RunType]++
	}
	return counts
}

// GetLogger returns the events package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("events")
}

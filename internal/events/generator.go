package events

import (
	"math/rand/v2"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// GeneratorConfig sizes a ClassificationGenerator.
type GeneratorConfig struct {
	StorageSize      int
	BatchSize        int
	ReplacedPerBatch int
	Seed             uint64
}

type example struct {
	input []float64
	truth float64
}

// ClassificationGenerator yields alpha-classification batches from a rolling
// storage of converted examples. Converting is expensive for audio inputs, so
// only ReplacedPerBatch fresh events are converted per batch.
type ClassificationGenerator struct {
	cfg     GeneratorConfig
	events  []BubbleEvent
	convert Converter
	rng     *rand.Rand
	storage []example
	// events known to have no data
	empty map[int]struct{}
}

// NewClassificationGenerator fills the storage from evs.
func NewClassificationGenerator(evs []BubbleEvent, convert Converter, cfg GeneratorConfig) (*ClassificationGenerator, error) {
	switch {
	case len(evs) == 0:
		return nil, generatorErr("no events to draw from")
	case cfg.StorageSize <= 0 || cfg.BatchSize <= 0:
		return nil, generatorErr("storage size %d and batch size %d must be positive", cfg.StorageSize, cfg.BatchSize)
	case cfg.BatchSize > cfg.StorageSize:
		return nil, generatorErr("batch size %d exceeds storage size %d", cfg.BatchSize, cfg.StorageSize)
	case cfg.ReplacedPerBatch < 0 || cfg.ReplacedPerBatch > cfg.StorageSize:
		return nil, generatorErr("replaced per batch %d outside [0, %d]", cfg.ReplacedPerBatch, cfg.StorageSize)
	}

	g := &ClassificationGenerator{
		cfg:     cfg,
		events:  evs,
		convert: convert,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		storage: make([]example, cfg.StorageSize),
		empty:   make(map[int]struct{}),
	}
	for i := range g.storage {
		ex, err := g.draw()
		if err != nil {
			return nil, err
		}
		g.storage[i] = ex
	}
	return g, nil
}

func generatorErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("events").
		Category(errors.CategoryValidation).
		Build()
}

// draw converts a random event, skipping events without data.
func (g *ClassificationGenerator) draw() (example, error) {
	for len(g.empty) < len(g.events) {
		i := g.rng.IntN(len(g.events))
		if _, skip := g.empty[i]; skip {
			continue
		}
		input, err := g.convert(g.events[i])
		if errors.Is(err, ErrNoData) {
			g.empty[i] = struct{}{}
			continue
		}
		if err != nil {
			return example{}, err
		}
		return example{input: input, truth: g.events[i].AlphaTruth()}, nil
	}
	return example{}, errors.New(ErrNoData).
		Component("events").
		Category(errors.CategoryValidation).
		Context("events", len(g.events)).
		Build()
}

// Next returns BatchSize distinct storage examples, then refreshes
// ReplacedPerBatch random storage slots.
func (g *ClassificationGenerator) Next() (x, y [][]float64, err error) {
	x = make([][]float64, g.cfg.BatchSize)
	y = make([][]float64, g.cfg.BatchSize)
	for i, slot := range g.rng.Perm(len(g.storage))[:g.cfg.BatchSize] {
		x[i] = g.storage[slot].input
		y[i] = []float64{g.storage[slot].truth}
	}
	for range g.cfg.ReplacedPerBatch {
		ex, err := g.draw()
		if err != nil {
			return nil, nil, err
		}
		g.storage[g.rng.IntN(len(g.storage))] = ex
	}
	return x, y, nil
}

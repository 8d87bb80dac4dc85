package events

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// ErrNoData is returned by a Converter when an event has nothing to convert,
// for example no audio recording. Such events are skipped.
var ErrNoData = errors.NewStd("event has no data for this conversion")

// Converter turns an event into a network input vector.
type Converter func(BubbleEvent) ([]float64, error)

// Options control which events are kept and how they are split.
type Options struct {
	// KeepRunTypes lists the run types to keep; empty keeps every type.
	KeepRunTypes          []RunType
	FilterMultipleBubbles bool
	UseFiducialCuts       bool
	UseWallCuts           bool
	Cuts                  Cuts
	// ValidationFraction of the kept events goes to the validation set.
	ValidationFraction float64
	Seed               uint64
}

// DefaultOptions keep every run type, apply wall cuts and hold out a fifth
// of the events.
func DefaultOptions() Options {
	return Options{
		UseWallCuts:        true,
		Cuts:               DefaultCuts(),
		ValidationFraction: 0.2,
		Seed:               1,
	}
}

// DataSet is a filtered, shuffled split of events.
type DataSet struct {
	Training   []BubbleEvent
	Validation []BubbleEvent
	opts       Options
}

// Examples are parallel input and ground-truth arrays.
type Examples struct {
	Inputs [][]float64
	Truths [][]float64
}

// Len returns the number of examples.
func (e Examples) Len() int { return len(e.Inputs) }

// Split is a training/validation pair of example arrays.
type Split struct {
	Training   Examples
	Validation Examples
}

// NewDataSet filters evs according to opts and splits the result
// deterministically. The input slice is not modified.
func NewDataSet(evs []BubbleEvent, opts Options) (*DataSet, error) {
	if opts.ValidationFraction < 0 || opts.ValidationFraction >= 1 || math.IsNaN(opts.ValidationFraction) {
		return nil, errors.Newf("validation fraction %v outside [0, 1)", opts.ValidationFraction).
			Component("events").
			Category(errors.CategoryValidation).
			Build()
	}

	kept := make([]BubbleEvent, 0, len(evs))
	for i := range evs {
		if keep(&evs[i], &opts) {
			kept = append(kept, evs[i].Clone())
		}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })

	nVal := int(math.Round(float64(len(kept)) * opts.ValidationFraction))
	ds := &DataSet{
		Validation: kept[:nVal:nVal],
		Training:   kept[nVal:],
		opts:       opts,
	}

	GetLogger().Info("data set prepared",
		logger.Int("input_events", len(evs)),
		logger.Int("training", len(ds.Training)),
		logger.Int("validation", len(ds.Validation)))
	return ds, nil
}

func keep(e *BubbleEvent, opts *Options) bool {
	if len(opts.KeepRunTypes) > 0 && !slices.Contains(opts.KeepRunTypes, e.RunType) {
		return false
	}
	if opts.FilterMultipleBubbles && e.NumBubbles > 1 {
		return false
	}
	if opts.UseWallCuts && !opts.Cuts.InsideChamber(e) {
		return false
	}
	if opts.UseFiducialCuts && !opts.Cuts.InsideFiducialVolume(e) {
		return false
	}
	return true
}

// Options returns the options the data set was built with.
func (d *DataSet) Options() Options { return d.opts }

// All returns training followed by validation events in a new slice.
func (d *DataSet) All() []BubbleEvent {
	out := make([]BubbleEvent, 0, len(d.Training)+len(d.Validation))
	out = append(out, d.Training...)
	return append(out, d.Validation...)
}

// FilterTraining keeps only the training events for which pred is true.
func (d *DataSet) FilterTraining(pred func(*BubbleEvent) bool) {
	d.Training = slices.DeleteFunc(d.Training, func(e BubbleEvent) bool { return !pred(&e) })
}

// PositionFromTimeZero pairs piezo time-zero vectors with optical positions.
// Events without timings or with a non-finite value are skipped.
func (d *DataSet) PositionFromTimeZero() Split {
	return Split{
		Training:   positionExamples(d.Training),
		Validation: positionExamples(d.Validation),
	}
}

func positionExamples(evs []BubbleEvent) Examples {
	var ex Examples
	for i := range evs {
		e := &evs[i]
		if len(e.TimeZeros) == 0 || !e.HasFinitePosition() || !allFinite(e.TimeZeros) {
			continue
		}
		ex.Inputs = append(ex.Inputs, slices.Clone(e.TimeZeros))
		ex.Truths = append(ex.Truths, []float64{e.Position[0], e.Position[1], e.Position[2]})
	}
	return ex
}

// AlphaClassification converts every event with convert and labels it 1 for
// alpha candidates and 0 otherwise. Events reporting ErrNoData are skipped.
func (d *DataSet) AlphaClassification(convert Converter) (Split, error) {
	train, err := ClassificationExamples(d.Training, convert)
	if err != nil {
		return Split{}, err
	}
	val, err := ClassificationExamples(d.Validation, convert)
	if err != nil {
		return Split{}, err
	}
	return Split{Training: train, Validation: val}, nil
}

// ClassificationExamples converts evs, skipping events without data.
func ClassificationExamples(evs []BubbleEvent, convert Converter) (Examples, error) {
	var ex Examples
	for i := range evs {
		input, err := convert(evs[i])
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return Examples{}, err
		}
		ex.Inputs = append(ex.Inputs, input)
		ex.Truths = append(ex.Truths, []float64{evs[i].AlphaTruth()})
	}
	return ex, nil
}

// PulseCountConverter returns the PMT pulse counts of an event.
func PulseCountConverter(e BubbleEvent) ([]float64, error) {
	if len(e.PulseCounts) == 0 {
		return nil, ErrNoData
	}
	return slices.Clone(e.PulseCounts), nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

package events

import (
	"math"
	"strconv"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/textdata"
)

// Mapping names the table attributes that hold each event field. Optional
// fields may be left empty or name an attribute that is absent from the file.
type Mapping struct {
	Run               string `mapstructure:"run" yaml:"run"`
	Event             string `mapstructure:"event" yaml:"event"`
	RunType           string `mapstructure:"runtype" yaml:"runtype"`
	X                 string `mapstructure:"x" yaml:"x"`
	Y                 string `mapstructure:"y" yaml:"y"`
	Z                 string `mapstructure:"z" yaml:"z"`
	AcousticParameter string `mapstructure:"acousticparameter" yaml:"acousticparameter"`
	TimeZeros         string `mapstructure:"timezeros" yaml:"timezeros"`
	PulseCounts       string `mapstructure:"pulsecounts" yaml:"pulsecounts"`
	NumBubbles        string `mapstructure:"numbubbles" yaml:"numbubbles"`
	AudioPath         string `mapstructure:"audiopath" yaml:"audiopath"`
}

// DefaultMapping matches the merged PICO-60 tables.
func DefaultMapping() Mapping {
	return Mapping{
		Run:               "run",
		Event:             "ev",
		RunType:           "runtype",
		X:                 "X",
		Y:                 "Y",
		Z:                 "Z",
		AcousticParameter: "AP",
		TimeZeros:         "piezo_t0",
		PulseCounts:       "pmt_pulses",
		NumBubbles:        "nbub",
		AudioPath:         "audio_path",
	}
}

// Binding is a Mapping resolved against a concrete schema.
type Binding struct {
	run       textdata.Attribute
	event     textdata.Attribute
	runType   textdata.Attribute
	position  [3]*textdata.Attribute
	acoustic  *textdata.Attribute
	timeZeros *textdata.Attribute
	pulses    *textdata.Attribute
	bubbles   *textdata.Attribute
	audio     *textdata.Attribute
}

func bindingErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("events").
		Category(errors.CategoryConfiguration).
		Build()
}

// Bind resolves the mapping. Run, event and run type are required; the run
// type must be numeric.
func (m Mapping) Bind(schema *textdata.Schema) (*Binding, error) {
	b := &Binding{}
	var ok bool
	if b.run, ok = schema.Lookup(m.Run); !ok {
		return nil, bindingErr("run attribute %q not found", m.Run)
	}
	if b.event, ok = schema.Lookup(m.Event); !ok || !b.event.Kind.Numeric() {
		return nil, bindingErr("event attribute %q not found or not numeric", m.Event)
	}
	if b.runType, ok = schema.Lookup(m.RunType); !ok || !b.runType.Kind.Numeric() {
		return nil, bindingErr("run type attribute %q not found or not numeric", m.RunType)
	}

	var err error
	for i, name := range []string{m.X, m.Y, m.Z} {
		if b.position[i], err = optional(schema, name, true); err != nil {
			return nil, err
		}
	}
	if b.acoustic, err = optional(schema, m.AcousticParameter, true); err != nil {
		return nil, err
	}
	if b.timeZeros, err = optional(schema, m.TimeZeros, true); err != nil {
		return nil, err
	}
	if b.pulses, err = optional(schema, m.PulseCounts, true); err != nil {
		return nil, err
	}
	if b.bubbles, err = optional(schema, m.NumBubbles, true); err != nil {
		return nil, err
	}
	if b.audio, err = optional(schema, m.AudioPath, false); err != nil {
		return nil, err
	}
	return b, nil
}

func optional(schema *textdata.Schema, name string, numeric bool) (*textdata.Attribute, error) {
	if name == "" {
		return nil, nil
	}
	a, ok := schema.Lookup(name)
	if !ok {
		return nil, nil
	}
	if a.Kind.Numeric() != numeric {
		return nil, bindingErr("attribute %q has kind %s", name, a.Kind)
	}
	return &a, nil
}

// Event converts one record. Missing numeric fields become NaN and a missing
// bubble count is taken as a single bubble.
func (b *Binding) Event(rec *textdata.Record) BubbleEvent {
	ev := BubbleEvent{
		Event:             int(rec.Float(b.event)),
		RunType:           RunType(int(rec.Float(b.runType))),
		AcousticParameter: math.NaN(),
		NumBubbles:        1,
	}
	if b.run.Kind.Numeric() {
		ev.Run = strconv.FormatFloat(rec.Float(b.run), 'f', -1, 64)
	} else {
		ev.Run = rec.Text(b.run)
	}
	for i, a := range b.position {
		if a == nil {
			ev.Position[i] = math.NaN()
			continue
		}
		ev.Position[i] = rec.Float(*a)
	}
	if b.acoustic != nil {
		ev.AcousticParameter = rec.Float(*b.acoustic)
	}
	if b.timeZeros != nil {
		ev.TimeZeros = append([]float64(nil), rec.Floats(*b.timeZeros)...)
	}
	if b.pulses != nil {
		ev.PulseCounts = append([]float64(nil), rec.Floats(*b.pulses)...)
	}
	if b.bubbles != nil {
		ev.NumBubbles = int(rec.Float(*b.bubbles))
	}
	if b.audio != nil {
		ev.AudioPath = rec.Text(*b.audio)
	}
	return ev
}

// FromRecords converts a whole table.
func FromRecords(schema *textdata.Schema, records []textdata.Record, m Mapping) ([]BubbleEvent, error) {
	b, err := m.Bind(schema)
	if err != nil {
		return nil, err
	}
	out := make([]BubbleEvent, len(records))
	for i := range records {
		out[i] = b.Event(&records[i])
	}
	return out, nil
}

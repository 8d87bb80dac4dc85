// Package audio loads piezo recordings and turns them into network inputs.
package audio

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// Recording is a decoded multi-channel recording with samples in [-1, 1).
type Recording struct {
	SampleRate int
	BitDepth   int
	Channels   [][]float64
}

// Len returns the number of samples per channel.
func (r *Recording) Len() int {
	if len(r.Channels) == 0 {
		return 0
	}
	return len(r.Channels[0])
}

// getAudioDivisor returns the full-scale value for a PCM bit depth.
func getAudioDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	}
	return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
}

// Decode reads a PCM WAV stream and splits it into normalized channels.
func Decode(r io.ReadSeeker) (*Recording, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}

	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding PCM data: %w", err)).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}

	numChans := int(decoder.NumChans)
	if numChans == 0 {
		return nil, errors.Newf("WAV file declares no channels").
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}
	frames := len(buf.Data) / numChans
	rec := &Recording{
		SampleRate: int(decoder.SampleRate),
		BitDepth:   int(decoder.BitDepth),
		Channels:   make([][]float64, numChans),
	}
	for c := range rec.Channels {
		rec.Channels[c] = make([]float64, frames)
	}
	for i := range frames {
		for c := range numChans {
			rec.Channels[c][i] = float64(buf.Data[i*numChans+c]) / divisor
		}
	}
	return rec, nil
}

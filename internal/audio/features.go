package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
)

// powerFloor keeps log power finite for silent bands.
const powerFloor = 1e-12

func featureErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("audio").
		Category(errors.CategoryAudio).
		Build()
}

// BandedFrequency splits each channel's one-sided power spectrum (DC
// excluded) into bands of equal width and returns the natural log of the
// mean power per band, channel-major.
func BandedFrequency(channels [][]float64, bands int) ([]float64, error) {
	if len(channels) == 0 || bands <= 0 {
		return nil, featureErr("need at least one channel and one band, got %d and %d", len(channels), bands)
	}
	n := len(channels[0])
	bins := n / 2
	if bins < bands {
		return nil, featureErr("%d samples give %d frequency bins, fewer than %d bands", n, bins, bands)
	}

	fft := fourier.NewFFT(n)
	coeffs := make([]complex128, n/2+1)
	out := make([]float64, 0, len(channels)*bands)
	for c, samples := range channels {
		if len(samples) != n {
			return nil, featureErr("channel %d has %d samples, expected %d", c, len(samples), n)
		}
		coeffs = fft.Coefficients(coeffs, samples)
		for b := range bands {
			lo := 1 + b*bins/bands
			hi := 1 + (b+1)*bins/bands
			sum := 0.0
			for _, z := range coeffs[lo:hi] {
				re, im := real(z), imag(z)
				sum += re*re + im*im
			}
			out = append(out, math.Log(sum/float64(hi-lo)+powerFloor))
		}
	}
	return out, nil
}

// Interleave lays out the first length samples of the first numChannels
// channels as [sample][channel], flattened. Short channels are zero padded.
func Interleave(channels [][]float64, length, numChannels int) ([]float64, error) {
	if length <= 0 || numChannels <= 0 {
		return nil, featureErr("length %d and channel count %d must be positive", length, numChannels)
	}
	if len(channels) < numChannels {
		return nil, featureErr("recording has %d channels, need %d", len(channels), numChannels)
	}
	out := make([]float64, length*numChannels)
	for c := range numChannels {
		src := channels[c]
		for i := range min(length, len(src)) {
			out[i*numChannels+c] = src[i]
		}
	}
	return out, nil
}

// BandedFrequencyConverter converts an event's recording into banded
// frequency features.
func BandedFrequencyConverter(l *Loader, bands int) events.Converter {
	return func(e events.BubbleEvent) ([]float64, error) {
		rec, err := l.Load(e.AudioPath)
		if err != nil {
			return nil, err
		}
		return BandedFrequency(rec.Channels, bands)
	}
}

// WaveformConverter converts an event's recording into an interleaved
// waveform of the given length.
func WaveformConverter(l *Loader, length, numChannels int) events.Converter {
	return func(e events.BubbleEvent) ([]float64, error) {
		rec, err := l.Load(e.AudioPath)
		if err != nil {
			return nil, err
		}
		return Interleave(rec.Channels, length, numChannels)
	}
}

// Package models builds the networks used by the training loops.
package models

import (
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/nn"
)

const (
	// PulseCountInputs is the number of photomultiplier channels.
	PulseCountInputs = 255
	// DefaultWaveformLength is the number of samples per piezo channel.
	DefaultWaveformLength = 100000
	// WaveformChannels is the number of piezo channels fed to the waveform
	// network.
	WaveformChannels = 2
	// MinWaveformLength is the shortest clip the waveform network can
	// reduce to a non-empty feature map.
	MinWaveformLength = 48028

	waveformL2      = 3e-4
	waveformDropout = 0.5
)

// GetLogger returns the models module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("models")
}

func build(name string, layers []nn.Layer, opts []nn.Option) (*nn.Model, error) {
	m, err := nn.NewModel(layers, opts...)
	if err != nil {
		return nil, err
	}
	GetLogger().Info("model built",
		logger.String("model", name),
		logger.Int("params", m.NumParams()),
		logger.String("output_shape", m.OutputShape().String()))
	GetLogger().Debug("model summary\n"+m.Summary(), logger.String("model", name))
	return m, nil
}

// PulseCount classifies events from per-PMT pulse counts.
func PulseCount(opts ...nn.Option) (*nn.Model, error) {
	return build("pulse_count", []nn.Layer{
		nn.Input(PulseCountInputs),
		nn.BatchNormalization(),
		nn.Dense(100, nn.Tanh, 0),
		nn.Dense(40, nn.Tanh, 0),
		nn.Dense(10, nn.Tanh, 0),
		nn.Dense(1, nn.Sigmoid, 0),
	}, opts)
}

// BandedFrequency classifies events from banded frequency features.
func BandedFrequency(inputs int, opts ...nn.Option) (*nn.Model, error) {
	return build("banded_frequency", []nn.Layer{
		nn.Input(inputs),
		nn.BatchNormalization(),
		nn.Dense(12, nn.Tanh, 0),
		nn.Dense(8, nn.Tanh, 0),
		nn.Dense(1, nn.Sigmoid, 0),
	}, opts)
}

// PositionFromTimeZero regresses the bubble position from piezo timings.
func PositionFromTimeZero(inputs int, opts ...nn.Option) (*nn.Model, error) {
	return build("position_from_time_zero", []nn.Layer{
		nn.Input(inputs),
		nn.BatchNormalization(),
		nn.Dense(12, nn.Tanh, 0),
		nn.Dense(8, nn.Tanh, 0),
		nn.Dense(3, nn.Linear, 0),
	}, opts)
}

// convBlock appends n valid convolutions each followed by batch
// normalization.
func convBlock(layers []nn.Layer, n, filters int) []nn.Layer {
	for range n {
		layers = append(layers,
			nn.Conv1D(filters, 3, 1, nn.Tanh, waveformL2),
			nn.BatchNormalization())
	}
	return layers
}

// WaveformLocalization is a deep one-dimensional convolutional classifier
// over raw two-channel audio of the given length.
func WaveformLocalization(length int, opts ...nn.Option) (*nn.Model, error) {
	layers := []nn.Layer{
		nn.Input(length, WaveformChannels),
		nn.BatchNormalization(),
		nn.Conv1D(16, 80, 4, nn.Tanh, waveformL2),
		nn.MaxPooling1D(6),
		nn.BatchNormalization(),
	}
	layers = convBlock(layers, 3, 16)
	layers = append(layers, nn.MaxPooling1D(6), nn.BatchNormalization())
	layers = convBlock(layers, 4, 32)
	layers = append(layers, nn.MaxPooling1D(6), nn.BatchNormalization())
	layers = convBlock(layers, 6, 48)
	layers = append(layers, nn.MaxPooling1D(6), nn.BatchNormalization())
	layers = convBlock(layers, 3, 64)
	layers = append(layers,
		nn.Flatten(),
		nn.Dense(64, nn.Tanh, waveformL2),
		nn.Dropout(waveformDropout),
		nn.Dense(16, nn.Tanh, waveformL2),
		nn.Dropout(waveformDropout),
		nn.Dense(1, nn.Sigmoid, waveformL2),
	)
	return build("waveform_localization", layers, opts)
}

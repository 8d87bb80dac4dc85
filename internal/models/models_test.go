package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/nn"
)

func TestFactoryShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		build      func() (*nn.Model, error)
		input      nn.Shape
		output     nn.Shape
		paramCount int
	}{
		{
			name:   "pulse count",
			build:  func() (*nn.Model, error) { return PulseCount() },
			input:  nn.Shape{255},
			output: nn.Shape{1},
			// bn 510, dense 25600, 4040, 410, 11
			paramCount: 510 + 25600 + 4040 + 410 + 11,
		},
		{
			name:       "banded frequency",
			build:      func() (*nn.Model, error) { return BandedFrequency(16) },
			input:      nn.Shape{16},
			output:     nn.Shape{1},
			paramCount: 32 + 204 + 104 + 9,
		},
		{
			name:       "position from time zero",
			build:      func() (*nn.Model, error) { return PositionFromTimeZero(4) },
			input:      nn.Shape{4},
			output:     nn.Shape{3},
			paramCount: 8 + 60 + 104 + 27,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.input, m.InputShape())
			assert.Equal(t, tt.output, m.OutputShape())
			assert.Equal(t, tt.paramCount, m.NumParams())
		})
	}
}

func TestWaveformLocalizationShapes(t *testing.T) {
	t.Parallel()

	m, err := WaveformLocalization(DefaultWaveformLength)
	require.NoError(t, err)
	assert.Equal(t, nn.Shape{DefaultWaveformLength, WaveformChannels}, m.InputShape())
	assert.Equal(t, nn.Shape{1}, m.OutputShape())

	shapes := m.LayerShapes()
	var flatten nn.Shape
	for i, l := range m.Layers() {
		if l.Kind() == "Flatten" {
			flatten = shapes[i]
		}
	}
	assert.Equal(t, nn.Shape{11 * 64}, flatten)
}

func TestWaveformLocalizationMinimumLength(t *testing.T) {
	t.Parallel()

	m, err := WaveformLocalization(MinWaveformLength)
	require.NoError(t, err)
	assert.Equal(t, nn.Shape{1}, m.OutputShape())

	_, err = WaveformLocalization(MinWaveformLength - 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelBuild))
}

func TestFactoriesAreSeeded(t *testing.T) {
	t.Parallel()

	a, err := BandedFrequency(8, nn.WithSeed(5))
	require.NoError(t, err)
	b, err := BandedFrequency(8, nn.WithSeed(5))
	require.NoError(t, err)

	x := [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}}
	pa, err := a.Predict(x)
	require.NoError(t, err)
	pb, err := b.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
	assert.InDelta(t, 0.5, pa[0][0], 0.5)
}

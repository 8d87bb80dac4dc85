package localization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/errors"
)

func TestNewGeometryRejectsDegenerateLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sensors []Point
		speed   float64
	}{
		{"no sensors", nil, 1},
		{"single sensor", []Point{{1, 2, 3}}, 1},
		{"coincident", []Point{{1, 0, 0}, {0, 1, 0}, {1, 0, 0}}, 1},
		{"collinear", []Point{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}, {-4, -4, -4}}, 1},
		{"two sensors", []Point{{0, 0, 0}, {1, 0, 0}}, 1},
		{"nan coordinate", []Point{{0, 0, 0}, {1, math.NaN(), 0}, {0, 1, 0}}, 1},
		{"zero speed", chamberSensors, 0},
		{"negative speed", chamberSensors, -1},
		{"infinite speed", chamberSensors, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewGeometry(tt.sensors, tt.speed)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDegenerateGeometry))
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestGeometryCoplanar(t *testing.T) {
	t.Parallel()

	planar := mustGeometry(t, chamberSensors, 1)
	assert.True(t, planar.Coplanar())

	triangle := mustGeometry(t, []Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, 1)
	assert.True(t, triangle.Coplanar())

	tilted := mustGeometry(t, []Point{{0, 0, 0}, {1, 0, 1}, {0, 1, 1}, {1, 1, 2}}, 1)
	assert.True(t, tilted.Coplanar())

	volume := mustGeometry(t, volumeSensors, 1)
	assert.False(t, volume.Coplanar())
}

func TestGeometryIsImmutable(t *testing.T) {
	t.Parallel()

	sensors := []Point{{5, 5, 0}, {-5, -5, 0}, {3, -3, 0}, {-3, 3, 0}}
	g := mustGeometry(t, sensors, 1)

	sensors[0] = Point{100, 100, 100}
	assert.Equal(t, Point{5, 5, 0}, g.Sensor(0))

	copied := g.Sensors()
	copied[1] = Point{}
	assert.Equal(t, Point{-5, -5, 0}, g.Sensor(1))

	assert.Equal(t, 4, g.NumSensors())
	assert.InDelta(t, 1.0, g.Speed(), 0)
}

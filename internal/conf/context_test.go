package conf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/buildinfo"
	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/observability"
	"github.com/bubblelab/bubblenet/internal/textdata"
)

const eventTable = `PICO events
run ev runtype X Y Z AP
%d %d %d %f %f %f %f
20170623 1 1 1.5 -3 12 0.8
20170623 2 2 0 0 0 -1.2
20170701 7 3 4 5 6 0.1
`

func TestContextLoadEventsFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.txt")
	require.NoError(t, os.WriteFile(path, []byte(eventTable), 0o644))

	c := NewContext(buildinfo.NewContext("test", ""))
	c.Settings.Dataset.Input = path
	evs, err := c.LoadEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "20170701", evs[2].Run)
	assert.Equal(t, events.Californium, evs[2].RunType)

	c.Settings.Dataset.Input = filepath.Join(t.TempDir(), "missing.txt")
	_, err = c.LoadEvents(context.Background())
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO), "got %v", err)
}

func TestContextLoadEventsFromStore(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	c := NewContext(nil)
	c.Metrics = m
	c.Settings.Dataset.Store.DSN = filepath.Join(t.TempDir(), "events.db")

	store, err := c.OpenStore()
	require.NoError(t, err)
	rd, err := textdata.NewReader(strings.NewReader(eventTable))
	require.NoError(t, err)
	_, err = store.Import(context.Background(), rd)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	evs, err := c.LoadEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, [3]float64{1.5, -3, 12}, evs[0].Position)
}

func TestContextNewSolver(t *testing.T) {
	t.Parallel()

	c := NewContext(nil)
	s, err := c.NewSolver()
	require.NoError(t, err)
	assert.Equal(t, len(c.Settings.Localization.Sensors), s.Geometry().NumSensors())

	c.Settings.Localization.Sensors = [][]float64{{0, 0, 0}}
	_, err = c.NewSolver()
	assert.Error(t, err)
}

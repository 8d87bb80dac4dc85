package datastore

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/observability/metrics"
	"github.com/bubblelab/bubblenet/internal/textdata"
)

const sampleTable = `PICO merged table
run ev X piezo_t0(2,2) audio_path
%d %d %f %e %e %e %e %s
20170623 1 1.5 0.1 0.2 0.3 0.4 /a.wav
20170623 2 -2.5 1 2 3 4 /b.wav
20170623 3 0 -1 -2 -3 -4 /c.wav
`

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewSlogLogger(nil, logger.LogLevelInfo, nil))}, opts...)
	s, err := Open(Config{
		Driver:    "sqlite",
		DSN:       filepath.Join(t.TempDir(), "events.db"),
		BatchSize: 2,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestImportRoundTrip(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	dm, err := metrics.NewDatastoreMetrics(registry)
	require.NoError(t, err)
	s := openTestStore(t, WithMetrics(dm))
	ctx := context.Background()

	rd, err := textdata.NewReader(strings.NewReader(sampleTable))
	require.NoError(t, err)
	n, err := s.Import(ctx, rd)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	schema, err := s.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PICO merged table", schema.Description)
	require.Len(t, schema.Attributes, 5)
	names := make([]string, 0, len(schema.Attributes))
	for _, a := range schema.Attributes {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"run", "ev", "X", "piezo_t0", "audio_path"}, names)
	t0, ok := schema.Lookup("piezo_t0")
	require.True(t, ok)
	assert.Equal(t, []int{2, 2}, t0.Dims)
	assert.Equal(t, 4, t0.Elements)
	assert.Equal(t, textdata.KindFloat, t0.Kind)
	run, _ := schema.Lookup("run")
	assert.Equal(t, textdata.KindInt, run.Kind)

	records, err := s.Records(ctx, schema)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int{4, 5, 6}, []int{records[0].Line, records[1].Line, records[2].Line})
	assert.Equal(t, []float64{20170623, 2, -2.5, 1, 2, 3, 4}, records[1].Numbers)
	assert.Equal(t, []string{"/c.wav"}, records[2].Strings)

	assert.InDelta(t, 3, testutil.ToFloat64(dm.RecordsWritten), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(dm.OperationsTotal.WithLabelValues(metrics.OpSaveSchema, "success")), 0)
	// batch size 2 over 3 records: two full-or-partial batches
	assert.InDelta(t, 2, testutil.ToFloat64(dm.OperationsTotal.WithLabelValues(metrics.OpSaveRecords, "success")), 0)
}

func TestSaveSchemaReplacesContents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rd, err := textdata.NewReader(strings.NewReader(sampleTable))
	require.NoError(t, err)
	_, err = s.Import(ctx, rd)
	require.NoError(t, err)

	schema, err := textdata.NewSchema("second", []textdata.Attribute{{Name: "E", Kind: textdata.KindFloat}})
	require.NoError(t, err)
	require.NoError(t, s.SaveSchema(ctx, schema))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := s.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Description)
	require.Len(t, got.Attributes, 1)

	require.NoError(t, s.SaveRecords(ctx, []textdata.Record{
		{Line: 4, Numbers: []float64{math.Inf(1)}},
		{Line: 5, Numbers: []float64{math.NaN()}},
	}))
	recs, err := s.Records(ctx, got)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, math.IsInf(recs[0].Numbers[0], 1))
	assert.True(t, math.IsNaN(recs[1].Numbers[0]))
}

func TestEventsThroughMapping(t *testing.T) {
	t.Parallel()

	const table = `PICO events
run ev runtype X Y Z AP piezo_t0(3) audio_path
%d %d %d %f %f %f %f %e %e %e %s
20170623 1 1 1.5 -3 12 0.8 0 1e-05 2e-05 /a.wav
20170623 2 2 0 0 0 -1.2 3e-05 0 1e-05 /b.wav
`
	s := openTestStore(t)
	ctx := context.Background()
	rd, err := textdata.NewReader(strings.NewReader(table))
	require.NoError(t, err)
	_, err = s.Import(ctx, rd)
	require.NoError(t, err)

	evs, err := s.Events(ctx, events.DefaultMapping())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "20170623", evs[0].Run)
	assert.Equal(t, 1, evs[0].Event)
	assert.Equal(t, events.LowBackground, evs[0].RunType)
	assert.Equal(t, [3]float64{1.5, -3, 12}, evs[0].Position)
	assert.InDelta(t, 0.8, evs[0].AcousticParameter, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 1e-5, 2e-5}, evs[0].TimeZeros, 1e-15)
	assert.Equal(t, 1, evs[0].NumBubbles, "missing bubble count means one bubble")
	assert.Equal(t, "/b.wav", evs[1].AudioPath)
	assert.Equal(t, events.AmericiumBeryllium, evs[1].RunType)

	bad := events.DefaultMapping()
	bad.RunType = "missing"
	_, err = s.Events(ctx, bad)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "got %v", err)
}

func TestSchemaOnEmptyStore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.Schema(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSchema)
	assert.True(t, errors.IsNotFound(err))
}

func TestForEachRecordStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	rd, err := textdata.NewReader(strings.NewReader(sampleTable))
	require.NoError(t, err)
	_, err = s.Import(ctx, rd)
	require.NoError(t, err)
	schema, err := s.Schema(ctx)
	require.NoError(t, err)

	stop := errors.NewStd("stop")
	seen := 0
	err = s.ForEachRecord(ctx, schema, func(textdata.Record) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestRecordsRejectSchemaMismatch(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	rd, err := textdata.NewReader(strings.NewReader(sampleTable))
	require.NoError(t, err)
	_, err = s.Import(ctx, rd)
	require.NoError(t, err)

	wrong, err := textdata.NewSchema("", []textdata.Attribute{{Name: "only", Kind: textdata.KindFloat}})
	require.NoError(t, err)
	_, err = s.Records(ctx, wrong)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNumberPacking(t *testing.T) {
	t.Parallel()

	values := []float64{0, -1.25, math.MaxFloat64, math.SmallestNonzeroFloat64}
	buf := encodeNumbers(values)
	assert.Len(t, buf, 32)
	got, err := decodeNumbers(buf)
	require.NoError(t, err)
	assert.Equal(t, values, got)

	_, err = decodeNumbers(buf[:7])
	assert.Error(t, err)

	dims, err := splitDims(joinDims([]int{3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, dims)
	dims, err = splitDims("")
	require.NoError(t, err)
	assert.Nil(t, dims)
}

func TestImportErrorMarksCancellation(t *testing.T) {
	t.Parallel()

	err := importError(context.Canceled, 2, 1500*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	ctx := ee.GetContext()
	assert.Equal(t, 2, ctx["records"])
	assert.Equal(t, "import", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])

	other := errors.NewStd("disk full")
	assert.Same(t, other, importError(other, 0, time.Second))
}

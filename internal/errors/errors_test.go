package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderFields(t *testing.T) {
	t.Parallel()

	ee := Newf("row %d has %d tokens", 7, 3).
		Component("textdata").
		Category(CategoryFileParsing).
		Priority(PriorityHigh).
		Context("expected", 5).
		FileContext("/data/merged_all.txt", 7).
		Build()

	assert.Equal(t, "row 7 has 3 tokens", ee.Error())
	assert.Equal(t, "textdata", ee.GetComponent())
	assert.Equal(t, "file-parsing", ee.GetCategory())
	assert.Equal(t, PriorityHigh, ee.GetPriority())

	ctx := ee.GetContext()
	assert.Equal(t, 5, ctx["expected"])
	assert.Equal(t, "txt", ctx["file_extension"])
	assert.Equal(t, 7, ctx["line"])

	// the returned context is a copy
	ctx["expected"] = 9
	assert.Equal(t, 5, ee.GetContext()["expected"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())
}

func TestWrappedSentinelMatches(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("sentinel")
	ee := New(fmt.Errorf("context: %w", sentinel)).Category(CategoryValidation).Build()

	assert.True(t, Is(ee, sentinel))
	assert.True(t, IsCategory(ee, CategoryValidation))
	assert.False(t, IsNotFound(ee))

	wrapped := fmt.Errorf("outer: %w", ee)
	var target *EnhancedError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, CategoryValidation, target.Category)
}

func TestCategoryDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"parse", NewStd("failed to parse value"), CategoryFileParsing},
		{"file", NewStd("cannot open file"), CategoryFileIO},
		{"invalid", NewStd("invalid sensor count"), CategoryValidation},
		{"other", NewStd("something happened"), CategoryGeneric},
		{"categorized", New(NewStd("x")).Category(CategoryDatabase).Build(), CategoryDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detectCategory(tt.err))
		})
	}
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("boom")).Category(CategoryDatabase).Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.True(t, ee.IsReported())
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).
		Component("localization").
		Category(CategoryConvergence).
		Context("operation", "bfgs_solve").
		Build()

	assert.Equal(t, "Localization Convergence Failure Bfgs Solve", generateErrorTitle(ee))
}

func TestTimingContext(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("slow")).
		Component("datastore").
		Category(CategoryDatabase).
		Timing("import", 1500*time.Millisecond).
		Build()

	ctx := ee.GetContext()
	assert.Equal(t, "import", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])
	assert.Equal(t, "Datastore Database Error Import", generateErrorTitle(ee))
}

func TestSentryEventUsesErrorTimestamp(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("boom")).Category(CategoryDatabase).Build()
	event := newSentryEvent(ee, "Database Error", "[database] boom", sentry.LevelError)

	assert.Equal(t, ee.GetTimestamp(), event.Timestamp)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "[database] boom", event.Message)
	require.Len(t, event.Exception, 1)
	assert.Equal(t, "Database Error", event.Exception[0].Type)
}

func TestLookupComponent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		funcName string
		want     string
	}{
		{"github.com/bubblelab/bubblenet/internal/sysinfo.CheckMemory", "sysinfo"},
		{"github.com/bubblelab/bubblenet/internal/localization.(*Solver).Solve", "localization"},
		{"github.com/bubblelab/bubblenet/cmd/localize.runSingle", "cli"},
		{"main.main", ComponentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.funcName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, lookupComponent(tt.funcName))
		})
	}
}

func TestBasicPathScrub(t *testing.T) {
	t.Parallel()

	got := basicPathScrub("open /home/alice/merged_all.txt: no such file")
	assert.Equal(t, "open /home/[USER]/merged_all.txt: no such file", got)
}

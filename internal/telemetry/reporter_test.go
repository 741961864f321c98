package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cybernetic/internal/vsm"
)

func TestReporter_OnOperationCountsFeedsPrometheusCounter(t *testing.T) {
	r := NewReporter(ReporterConfig{})

	before := testutil.ToFloat64(operationsTotal.WithLabelValues("s1", "report-test-op"))
	r.OnOperationCounts([]vsm.OperationCount{
		{System: vsm.SystemS1, MessageType: "report-test-op", Count: 4},
	})
	after := testutil.ToFloat64(operationsTotal.WithLabelValues("s1", "report-test-op"))

	assert.Equal(t, float64(4), after-before)
}

func TestReporter_ReportDoesNotPanicWithNoTopics(t *testing.T) {
	r := NewReporter(ReporterConfig{})
	assert.NotPanics(t, r.Report)
}

func TestReporter_ReportSummarizesTrackedTopics(t *testing.T) {
	r := NewReporter(ReporterConfig{})
	r.Tracker().RecordAdmit("loop.topic")
	r.Tracker().RecordGrant("loop.topic")

	assert.NotPanics(t, r.Report)
}

func TestReporter_StartStopRunsPeriodicLoop(t *testing.T) {
	r := NewReporter(ReporterConfig{FlushInterval: 5 * time.Millisecond})
	r.Tracker().RecordAdmit("ticking.topic")

	r.Start()
	time.Sleep(20 * time.Millisecond)
	r.Stop()

	snaps := r.Tracker().Snapshot()
	require.NotEmpty(t, snaps)
}

func TestReporter_StopWithoutStartIsNoop(t *testing.T) {
	r := NewReporter(ReporterConfig{})
	assert.NotPanics(t, r.Stop)
}

package vsm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	counts []OperationCount
}

func (f *fakeSink) OnOperationCounts(c []OperationCount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, c...)
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.counts)
}

func TestOperationTelemetryService_FlushesOnTicker(t *testing.T) {
	sink := &fakeSink{}
	acc := NewOperationAccumulator(2, 4, 100, time.Hour)
	svc := NewOperationTelemetryService(acc, sink, OperationTelemetryServiceOptions{Buffer: 16, FlushInterval: 10 * time.Millisecond})
	svc.Start()
	defer svc.Stop()

	svc.Record(SystemS1, "op")

	require.Eventually(t, func() bool { return sink.total() > 0 }, time.Second, 5*time.Millisecond)
}

func TestOperationTelemetryService_FlushesOnStop(t *testing.T) {
	sink := &fakeSink{}
	acc := NewOperationAccumulator(1, 4, 1000, time.Hour)
	svc := NewOperationTelemetryService(acc, sink, OperationTelemetryServiceOptions{Buffer: 16, FlushInterval: time.Hour})
	svc.Start()

	svc.Record(SystemS3, "control")
	svc.Stop()

	assert.Equal(t, 1, sink.total())
}

func TestOperationTelemetryService_TryRecordNeverBlocks(t *testing.T) {
	acc := NewOperationAccumulator(1, 2, 1000, time.Hour)
	svc := NewOperationTelemetryService(acc, nil, OperationTelemetryServiceOptions{Buffer: 1, FlushInterval: time.Hour})

	ok := svc.TryRecord(SystemS1, "op")
	assert.True(t, ok)
}

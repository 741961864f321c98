package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSpan_StopRecordsDuration(t *testing.T) {
	before := testutil.CollectAndCount(spanDuration)

	span := StartSpan("test-component")
	time.Sleep(time.Millisecond)
	span.Stop()

	after := testutil.CollectAndCount(spanDuration)
	assert.Greater(t, after, before)
}

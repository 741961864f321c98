package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescenceTracker_SnapshotComputesRatio(t *testing.T) {
	tr := NewCoalescenceTracker(time.Hour)

	tr.RecordAdmit("widget.created")
	tr.RecordAdmit("widget.created")
	tr.RecordAdmit("widget.created")
	tr.RecordGrant("widget.created")

	snaps := tr.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "widget.created", snaps[0].Topic)
	assert.EqualValues(t, 3, snaps[0].Admits)
	assert.EqualValues(t, 1, snaps[0].Grants)
	assert.InDelta(t, 3.0, snaps[0].Ratio, 0.0001)
}

func TestCoalescenceTracker_RatioDefaultsToAdmitsWhenNoGrants(t *testing.T) {
	tr := NewCoalescenceTracker(time.Hour)
	tr.RecordAdmit("quiet.topic")

	snaps := tr.Snapshot()
	require.Len(t, snaps, 1)
	assert.InDelta(t, 1.0, snaps[0].Ratio, 0.0001)
}

func TestCoalescenceTracker_EvictsIdleTopics(t *testing.T) {
	tr := NewCoalescenceTracker(5 * time.Millisecond)
	tr.RecordAdmit("stale.topic")

	time.Sleep(20 * time.Millisecond)

	snaps := tr.Snapshot()
	assert.Empty(t, snaps)
}

func TestCoalescenceTracker_TracksMultipleTopicsIndependently(t *testing.T) {
	tr := NewCoalescenceTracker(time.Hour)
	tr.RecordAdmit("a")
	tr.RecordAdmit("b")
	tr.RecordAdmit("b")

	snaps := tr.Snapshot()
	byTopic := map[string]TopicSnapshot{}
	for _, s := range snaps {
		byTopic[s.Topic] = s
	}
	require.Len(t, byTopic, 2)
	assert.EqualValues(t, 1, byTopic["a"].Admits)
	assert.EqualValues(t, 2, byTopic["b"].Admits)
}

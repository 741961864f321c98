package vsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRouter_AppendAndDrainPreservesOrder(t *testing.T) {
	r := NewAuditRouter()

	first := r.Append(AuditEntry{System: SystemS2, EpisodeID: "ep-1", MessageType: "coordinate", SeqEnd: 1})
	second := r.Append(AuditEntry{System: SystemS2, EpisodeID: "ep-2", MessageType: "coordinate", SeqEnd: 2})

	assert.NotEqual(t, [16]byte{}, first.HashPrev)
	assert.NotEqual(t, first.HashPrev, second.HashPrev)

	entries := r.Drain(SystemS2)
	require.Len(t, entries, 2)
	assert.Equal(t, "ep-1", entries[0].EpisodeID)
	assert.Equal(t, "ep-2", entries[1].EpisodeID)
}

func TestAuditRouter_DrainClearsQueue(t *testing.T) {
	r := NewAuditRouter()
	r.Append(AuditEntry{System: SystemS1, EpisodeID: "ep-1"})

	require.Len(t, r.Drain(SystemS1), 1)
	assert.Empty(t, r.Drain(SystemS1))
}

func TestAuditRouter_IsolatesSystems(t *testing.T) {
	r := NewAuditRouter()
	r.Append(AuditEntry{System: SystemS1, EpisodeID: "from-s1"})
	r.Append(AuditEntry{System: SystemS3, EpisodeID: "from-s3"})

	s1 := r.Drain(SystemS1)
	require.Len(t, s1, 1)
	assert.Equal(t, "from-s1", s1[0].EpisodeID)

	s3 := r.Drain(SystemS3)
	require.Len(t, s3, 1)
	assert.Equal(t, "from-s3", s3[0].EpisodeID)
}

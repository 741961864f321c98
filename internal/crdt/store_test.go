package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_PutThenReadReturnsRecord(t *testing.T) {
	s := NewStore("site-a")
	s.PutTriple(Triple{"alice", "knows", "bob"}, nil, 1)

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].Triple.Subject)
}

func TestStore_HigherTimestampWins(t *testing.T) {
	s := NewStore("site-a")
	tr := Triple{"alice", "knows", "bob"}
	s.Merge(Delta{Records: []Record{{Triple: tr, TimestampMs: 1, Site: "a", Meta: map[string]string{"v": "1"}}}})
	s.Merge(Delta{Records: []Record{{Triple: tr, TimestampMs: 2, Site: "b", Meta: map[string]string{"v": "2"}}}})

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, "2", snap[0].Meta["v"])
}

func TestStore_ConcurrentWritesResolveByTimestamp(t *testing.T) {
	// Spec's worked convergence scenario: ts:1/site:A vs ts:2/site:B -> ts:2/site:B wins.
	s := NewStore("site-a")
	tr := Triple{"alice", "knows", "bob"}
	s.Merge(Delta{Records: []Record{{Triple: tr, TimestampMs: 2, Site: "B"}}})
	s.Merge(Delta{Records: []Record{{Triple: tr, TimestampMs: 1, Site: "A"}}}) // arrives out of order

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, int64(2), snap[0].TimestampMs)
	assert.Equal(t, "B", snap[0].Site)
}

func TestStore_RemoveSupersedesOlderPut(t *testing.T) {
	s := NewStore("site-a")
	tr := Triple{"alice", "knows", "bob"}
	s.PutTriple(tr, nil, 1)
	s.RemoveTriple(tr, 2)

	assert.Empty(t, s.Snapshot())
}

func TestStore_NewerPutSupersedesOlderRemove(t *testing.T) {
	s := NewStore("site-a")
	tr := Triple{"alice", "knows", "bob"}
	s.RemoveTriple(tr, 1)
	s.PutTriple(tr, nil, 2)

	assert.Len(t, s.Snapshot(), 1)
}

func TestKeyOf_DistinctTriplesDistinctKeys(t *testing.T) {
	a := KeyOf(Triple{"alice", "knows", "bob"})
	b := KeyOf(Triple{"alice", "knows", "carol"})
	assert.NotEqual(t, a, b)
}

func TestKeyOf_Deterministic(t *testing.T) {
	tr := Triple{"alice", "knows", "bob"}
	assert.Equal(t, KeyOf(tr), KeyOf(tr))
}

package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cybernetic/internal/crdt"
)

// fanoutTransport routes Send calls to other replicas registered by name,
// simulating a small mesh of gossiping peers without a real transport.
type fanoutTransport struct {
	replicas map[string]*crdt.Replica
}

func (t *fanoutTransport) Send(peer string, d crdt.Delta) error {
	if r, ok := t.replicas[peer]; ok {
		r.ReceiveDelta(d)
	}
	return nil
}

// TestScenario5_ThreeReplicasConvergeOnConcurrentWrites extends the
// worked two-site example to a three-site mesh: each site independently
// writes the same triple with a distinct timestamp, ships deltas on its own
// schedule, and every site must converge on the single highest-timestamp
// write regardless of which pair of sites happens to gossip first.
func TestScenario5_ThreeReplicasConvergeOnConcurrentWrites(t *testing.T) {
	transport := &fanoutTransport{replicas: map[string]*crdt.Replica{}}
	opts := crdt.ReplicaOptions{Buffer: 16, ShipInterval: 5 * time.Millisecond, Neighbours: 2}

	sites := []string{"A", "B", "C"}
	replicas := make(map[string]*crdt.Replica, len(sites))
	for _, site := range sites {
		peers := make([]string, 0, len(sites)-1)
		for _, other := range sites {
			if other != site {
				peers = append(peers, other)
			}
		}
		r := crdt.NewReplica(site, crdt.NewStaticMembership(peers), transport, opts)
		replicas[site] = r
		transport.replicas[site] = r
	}
	for _, r := range replicas {
		r.Start()
		defer r.Stop()
	}

	tr := crdt.Triple{Subject: "alice", Predicate: "knows", Object: "bob"}
	replicas["A"].PutTriple(tr, nil, 1)
	replicas["B"].PutTriple(tr, nil, 3)
	replicas["C"].PutTriple(tr, nil, 2)

	require.Eventually(t, func() bool {
		for _, r := range replicas {
			recs := r.Read()
			if len(recs) != 1 || recs[0].TimestampMs != 3 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	for site, r := range replicas {
		recs := r.Read()
		require.Len(t, recs, 1, "site %s should hold exactly one converged record", site)
		assert.Equal(t, "B", recs[0].Site, "site %s must resolve the tie to the highest timestamp's site", site)
	}
}

// TestScenario5_RemovalTombstoneBeatsAnOlderAdd confirms a remove issued
// after an add still wins convergence when it carries the later timestamp,
// matching the store's last-writer-wins-by-timestamp resolution even
// across a whole replica (not just the bare store).
func TestScenario5_RemovalTombstoneBeatsAnOlderAdd(t *testing.T) {
	transport := &fanoutTransport{replicas: map[string]*crdt.Replica{}}
	opts := crdt.ReplicaOptions{Buffer: 16, ShipInterval: 5 * time.Millisecond, Neighbours: 1}

	a := crdt.NewReplica("A", crdt.NewStaticMembership([]string{"B"}), transport, opts)
	b := crdt.NewReplica("B", crdt.NewStaticMembership([]string{"A"}), transport, opts)
	transport.replicas["A"] = a
	transport.replicas["B"] = b
	a.Start()
	b.Start()
	defer a.Stop()
	defer b.Stop()

	tr := crdt.Triple{Subject: "alice", Predicate: "knows", Object: "bob"}
	a.PutTriple(tr, nil, 1)
	b.RemoveTriple(tr, 2)

	require.Eventually(t, func() bool {
		return len(a.Read()) == 0 && len(b.Read()) == 0
	}, time.Second, 5*time.Millisecond)
}

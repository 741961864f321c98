// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package crdt

import (
	"sync"
	"time"
)

// ReplicaOptions configure a replica's debounced delta-shipping cadence.
type ReplicaOptions struct {
	// Buffer bounds the pending-mutation ingress channel.
	Buffer int
	// ShipInterval is the periodic debounce cadence bounding staleness (§4.8).
	ShipInterval time.Duration
	// Neighbours is how many peers each ship cycle fans out to.
	Neighbours int
}

// DefaultReplicaOptions matches §4.8's "bounded intervals with small
// debounce" language with a concrete, conservative default.
func DefaultReplicaOptions() ReplicaOptions {
	return ReplicaOptions{Buffer: 4096, ShipInterval: 200 * time.Millisecond, Neighbours: 3}
}

// Replica owns one Store plus the background task that ships its pending
// mutations to neighbouring replicas. Its run loop is the single writer:
// membership updates, local mutations, and the ship ticker all funnel
// through one goroutine; Store itself stays safe for concurrent reads via
// its own mutex so Read() never blocks on shipping.
type Replica struct {
	site       string
	store      *Store
	membership Membership
	transport  Transport
	opts       ReplicaOptions

	pending    chan Record
	stopCh     chan struct{}
	doneCh     chan struct{}
	once       sync.Once
	flushNowCh chan struct{}

	peersMu sync.Mutex
	peers   map[string]struct{}
}

// NewReplica constructs a replica identified by site.
func NewReplica(site string, membership Membership, transport Transport, opts ReplicaOptions) *Replica {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultReplicaOptions().Buffer
	}
	if opts.ShipInterval <= 0 {
		opts.ShipInterval = DefaultReplicaOptions().ShipInterval
	}
	if opts.Neighbours <= 0 {
		opts.Neighbours = DefaultReplicaOptions().Neighbours
	}
	return &Replica{
		site:       site,
		store:      NewStore(site),
		membership: membership,
		transport:  transport,
		opts:       opts,
		pending:    make(chan Record, opts.Buffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		flushNowCh: make(chan struct{}, 1),
		peers:      make(map[string]struct{}),
	}
}

// Start launches the background ship worker.
func (r *Replica) Start() {
	r.once.Do(func() { go r.run() })
}

// Stop asks the worker to perform a final ship and waits for it to exit.
func (r *Replica) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// PutTriple applies a local put and enqueues it for shipping to peers.
func (r *Replica) PutTriple(t Triple, meta map[string]string, timestampMs int64) {
	d := r.store.PutTriple(t, meta, timestampMs)
	r.enqueue(d)
}

// RemoveTriple applies a local remove and enqueues it for shipping to peers.
func (r *Replica) RemoveTriple(t Triple, timestampMs int64) {
	d := r.store.RemoveTriple(t, timestampMs)
	r.enqueue(d)
}

func (r *Replica) enqueue(d Delta) {
	for _, rec := range d.Records {
		select {
		case r.pending <- rec:
		case <-r.stopCh:
			// Replica stopped: the record stays applied locally only.
		}
	}
}

// Read returns the replica's current live snapshot.
func (r *Replica) Read() []Record {
	return r.store.Snapshot()
}

// ReceiveDelta merges a delta shipped by a peer. Safe for concurrent calls
// from a transport's inbound handler; merging is serialized inside Store.
func (r *Replica) ReceiveDelta(d Delta) {
	r.store.Merge(d)
}

// Ship forces an immediate best-effort ship cycle, non-blocking if one is
// already pending.
func (r *Replica) Ship() {
	select {
	case r.flushNowCh <- struct{}{}:
	default:
	}
}

func (r *Replica) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.ShipInterval)
	defer ticker.Stop()

	events := r.membership.Events()

	var batch []Record
	drain := func() {
		for {
			select {
			case rec := <-r.pending:
				batch = append(batch, rec)
			default:
				return
			}
		}
	}
	ship := func() {
		drain()
		if len(batch) == 0 {
			return
		}
		if r.shipTo(Delta{Records: batch}) {
			batch = nil
		}
	}

	for {
		select {
		case rec := <-r.pending:
			batch = append(batch, rec)
		case ev := <-events:
			r.applyMembership(ev)
		case <-ticker.C:
			ship()
		case <-r.flushNowCh:
			ship()
		case <-r.stopCh:
			ship()
			return
		}
	}
}

func (r *Replica) applyMembership(ev PeerEvent) {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	if ev.Joined {
		r.peers[ev.Peer] = struct{}{}
	} else {
		delete(r.peers, ev.Peer)
	}
}

func (r *Replica) knownPeers() []string {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	out := make([]string, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// shipTo sends d to the chosen neighbours and reports whether every send
// succeeded (trivially true with no transport or no neighbours).
func (r *Replica) shipTo(d Delta) bool {
	if r.transport == nil {
		return true
	}
	ok := true
	neighbours := pickNeighbours(r.site, r.knownPeers(), r.opts.Neighbours)
	for _, peer := range neighbours {
		if err := r.transport.Send(peer, d); err != nil {
			ok = false
		}
	}
	return ok
}

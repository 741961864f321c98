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

// PeerEvent reports a peer joining or leaving the known membership set.
type PeerEvent struct {
	Peer   string
	Joined bool
}

// Membership is a pluggable source of peer join/leave events (e.g. a
// gossip layer, a Kubernetes endpoint watch, a static file watcher).
type Membership interface {
	Events() <-chan PeerEvent
}

// Transport ships a delta to a named peer. Implementations are expected to
// be best-effort: a failed send is dropped, not retried, since the next
// ship interval will include any record still outstanding.
type Transport interface {
	Send(peer string, d Delta) error
}

// StaticMembership is a fixed peer set, useful for tests and single-process
// multi-replica setups where peers are known up front.
type StaticMembership struct {
	ch chan PeerEvent
}

// NewStaticMembership announces every peer in peers as joined immediately.
func NewStaticMembership(peers []string) *StaticMembership {
	ch := make(chan PeerEvent, len(peers))
	for _, p := range peers {
		ch <- PeerEvent{Peer: p, Joined: true}
	}
	return &StaticMembership{ch: ch}
}

// Events implements Membership.
func (m *StaticMembership) Events() <-chan PeerEvent {
	return m.ch
}

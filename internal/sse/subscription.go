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

package sse

import "sync"

// Event is a single fan-out message, framed onto the wire by Handler.
type Event struct {
	ID   uint64
	Base string
	Type string
	Data []byte
}

// Subscription is one client's live SSE stream: a single channel fed by
// every shard that owns one of its subscribed bases.
type Subscription struct {
	ID       string
	Tenant   string
	patterns []pattern

	Events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscription(id, tenant string, patterns []pattern) *Subscription {
	return &Subscription{
		ID:       id,
		Tenant:   tenant,
		patterns: patterns,
		Events:   make(chan Event, 64),
		closed:   make(chan struct{}),
	}
}

// Close marks the subscription closed. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Done reports the subscription's closed signal.
func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}

// bases returns the distinct base topics this subscription spans, each
// paired with the patterns that apply to it.
func (s *Subscription) bases() map[string][]pattern {
	out := make(map[string][]pattern)
	for _, p := range s.patterns {
		out[p.base] = append(out[p.base], p)
	}
	return out
}

func matchesAny(patterns []pattern, eventType string) bool {
	for _, p := range patterns {
		if p.matches(eventType) {
			return true
		}
	}
	return false
}

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

package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// topicAgg tracks one coalescence topic's admitted-vs-granted counts since
// it was last seen, the same admit/commit pairing churn's keyAgg tracks per
// accounting key, generalized from "writes avoided" to any
// admission-collapses-into-fewer-downstream-operations relationship (a
// coalescence topic is typically a coordinator slot topic, e.g. an episode
// kind).
type topicAgg struct {
	admits     atomic.Int64
	grants     atomic.Int64
	lastUpdate atomic.Int64 // UnixNano
}

// CoalescenceTracker reports how many admitted requests for a topic
// collapse into how many downstream grants (coordinator slots, breaker
// calls allowed through, commits actually written), for any
// caller-declared topic. State lives on the instance, constructed with its
// configuration, rather than in package-level globals.
type CoalescenceTracker struct {
	mu      sync.Mutex
	topics  map[string]*topicAgg
	idleTTL time.Duration
}

// NewCoalescenceTracker builds a tracker that evicts topics unseen for
// idleTTL on the next Snapshot call (default one hour if idleTTL <= 0).
func NewCoalescenceTracker(idleTTL time.Duration) *CoalescenceTracker {
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &CoalescenceTracker{topics: make(map[string]*topicAgg), idleTTL: idleTTL}
}

func (c *CoalescenceTracker) getOrCreate(topic string) *topicAgg {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ta, ok := c.topics[topic]; ok {
		return ta
	}
	ta := &topicAgg{}
	c.topics[topic] = ta
	return ta
}

// RecordAdmit records one admitted request for topic and updates the
// Prometheus admit counter.
func (c *CoalescenceTracker) RecordAdmit(topic string) {
	ta := c.getOrCreate(topic)
	ta.admits.Add(1)
	ta.lastUpdate.Store(time.Now().UnixNano())
	admitTotal.WithLabelValues(topic).Inc()
}

// RecordGrant records one downstream grant (slot reserved, breaker call
// allowed, commit written) for topic and updates the Prometheus grant
// counter.
func (c *CoalescenceTracker) RecordGrant(topic string) {
	ta := c.getOrCreate(topic)
	ta.grants.Add(1)
	ta.lastUpdate.Store(time.Now().UnixNano())
	grantTotal.WithLabelValues(topic).Inc()
}

// TopicSnapshot is one topic's coalescence ratio at Snapshot time.
type TopicSnapshot struct {
	Topic  string
	Admits int64
	Grants int64
	Ratio  float64 // admits / max(1, grants)
}

// Snapshot computes each tracked topic's current ratio, publishes it to the
// coalesce_ratio gauge, evicts topics idle past idleTTL, and returns the
// live set sorted by nothing in particular - callers that want a top-N
// sort it themselves at render time.
func (c *CoalescenceTracker) Snapshot() []TopicSnapshot {
	cutoff := time.Now().Add(-c.idleTTL).UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TopicSnapshot, 0, len(c.topics))
	for topic, ta := range c.topics {
		last := ta.lastUpdate.Load()
		if last > 0 && last < cutoff {
			delete(c.topics, topic)
			coalesceRatio.DeleteLabelValues(topic)
			continue
		}
		admits := ta.admits.Load()
		grants := ta.grants.Load()
		ratio := float64(admits) / float64(max64(1, grants))
		coalesceRatio.WithLabelValues(topic).Set(ratio)
		out = append(out, TopicSnapshot{Topic: topic, Admits: admits, Grants: grants, Ratio: ratio})
	}
	topicsTracked.Set(float64(len(out)))
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

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

// Package coordinator implements the S2 fair-share scheduler: it caps
// in-flight work per topic proportional to a declared priority weight,
// while an aging term guarantees a blocked topic is never starved
// indefinitely. Per-topic state lives in a sync.Map keyed by topic, each
// entry a small occupied/priority/wait_since triple.
package coordinator

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config bounds the coordinator's aging behaviour and system-wide ceiling.
type Config struct {
	MaxSlots   int
	AgingMs    time.Duration
	AgingCap   float64
	AgingBoost float64
}

// DefaultConfig matches internal/config.Defaults' documented values.
func DefaultConfig() Config {
	return Config{MaxSlots: 64, AgingMs: time.Second, AgingCap: 30, AgingBoost: 1.0}
}

type topicState struct {
	priority  atomic.Uint64 // math.Float64bits
	occupied  atomic.Int64
	waitSince atomic.Int64 // UnixNano of the oldest unresolved backpressure; 0 = not waiting
}

func newTopicState(priority float64) *topicState {
	ts := &topicState{}
	ts.priority.Store(math.Float64bits(priority))
	return ts
}

func (ts *topicState) getPriority() float64 {
	return math.Float64frombits(ts.priority.Load())
}

// Coordinator is the S2 fair-share scheduler.
type Coordinator struct {
	topics sync.Map // string -> *topicState
	cfg    Config
	log    *zap.Logger

	// mu serializes slot computation so a reservation always sees a
	// consistent snapshot of every topic's occupied/priority/wait_since.
	// The critical section stays short and never blocks ingestion elsewhere.
	mu sync.Mutex

	// totalOccupied tracks concurrency across every topic combined:
	// MaxSlots is a system-wide ceiling (§3's Fair-Share Slot State), and
	// max_slots(t)'s max(1, ...) floor guarantees every topic a nominal
	// share that can sum to more than MaxSlots across all topics. The
	// floor is a fairness target for when room frees up, not a bypass of
	// the global ceiling: a topic at its own quota still waits if the
	// global budget is currently exhausted by other topics.
	totalOccupied atomic.Int64
}

// New constructs a Coordinator from cfg, defaulting zero fields.
func New(cfg Config, log *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = def.MaxSlots
	}
	if cfg.AgingMs <= 0 {
		cfg.AgingMs = def.AgingMs
	}
	if cfg.AgingCap <= 0 {
		cfg.AgingCap = def.AgingCap
	}
	if cfg.AgingBoost == 0 {
		cfg.AgingBoost = def.AgingBoost
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, log: log}
}

// SetPriority declares (or updates) a topic's weight. Topics default to
// priority 1 on first reservation if never declared explicitly.
func (c *Coordinator) SetPriority(topic string, weight float64) {
	if actual, ok := c.topics.Load(topic); ok {
		actual.(*topicState).priority.Store(math.Float64bits(weight))
		return
	}
	c.topics.LoadOrStore(topic, newTopicState(weight))
}

func (c *Coordinator) getOrCreate(topic string) *topicState {
	if actual, ok := c.topics.Load(topic); ok {
		return actual.(*topicState)
	}
	actual, _ := c.topics.LoadOrStore(topic, newTopicState(1))
	return actual.(*topicState)
}

// ReserveSlot attempts to reserve one in-flight slot for topic. It returns
// true (ok) or false (backpressure); on backpressure wait_since is stamped
// (once) so the aging term grows until a slot frees up.
func (c *Coordinator) ReserveSlot(topic string) bool {
	ts := c.getOrCreate(topic)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	maxSlots := c.maxSlotsFor(topic, ts, now)
	occupied := ts.occupied.Load()

	if occupied < int64(maxSlots) && c.totalOccupied.Load() < int64(c.cfg.MaxSlots) {
		ts.occupied.Add(1)
		c.totalOccupied.Add(1)
		ts.waitSince.Store(0)
		c.log.Info("schedule", zap.String("topic", topic), zap.Int64("occupied", occupied+1), zap.Int("max_slots", maxSlots))
		return true
	}

	ts.waitSince.CompareAndSwap(0, now.UnixNano())
	c.log.Info("pressure", zap.String("topic", topic), zap.Int64("occupied", occupied), zap.Int("max_slots", maxSlots))
	return false
}

// ReleaseSlot frees one in-flight slot for topic.
func (c *Coordinator) ReleaseSlot(topic string) {
	ts := c.getOrCreate(topic)
	for {
		cur := ts.occupied.Load()
		if cur <= 0 {
			return
		}
		if ts.occupied.CompareAndSwap(cur, cur-1) {
			c.totalOccupied.Add(-1)
			return
		}
	}
}

// maxSlotsFor computes max(1, round(share(t) * MaxSlots)) per §4.4, scanning
// every declared topic's effective (aged) priority under c.mu.
func (c *Coordinator) maxSlotsFor(topic string, self *topicState, now time.Time) int {
	var sumEffective float64
	var numTopics int
	var selfEffective float64

	c.topics.Range(func(key, value interface{}) bool {
		ts := value.(*topicState)
		eff := c.effectivePriority(ts, now)
		sumEffective += eff
		numTopics++
		if key.(string) == topic {
			selfEffective = eff
		}
		return true
	})
	if numTopics == 0 {
		// self was just created and not yet visible via Range in a benign
		// race; treat it as the sole topic.
		selfEffective = c.effectivePriority(self, now)
		sumEffective = selfEffective
		numTopics = 1
	}

	denom := sumEffective + c.cfg.AgingBoost*float64(numTopics)
	if denom <= 0 {
		return 1
	}
	share := selfEffective / denom
	slots := int(math.Round(share * float64(c.cfg.MaxSlots)))
	if slots < 1 {
		slots = 1
	}
	return slots
}

// effectivePriority computes p'(t) = priority(t) + aging_boost *
// min(age_ms/aging_ms, aging_cap).
func (c *Coordinator) effectivePriority(ts *topicState, now time.Time) float64 {
	priority := ts.getPriority()
	waitSince := ts.waitSince.Load()
	if waitSince == 0 {
		return priority
	}
	ageMs := float64(now.Sub(time.Unix(0, waitSince)).Milliseconds())
	agingMs := float64(c.cfg.AgingMs.Milliseconds())
	if agingMs <= 0 {
		return priority
	}
	boost := math.Min(ageMs/agingMs, c.cfg.AgingCap)
	return priority + c.cfg.AgingBoost*boost
}

// Occupied reports topic's current occupied slot count, for tests and
// telemetry.
func (c *Coordinator) Occupied(topic string) int64 {
	return c.getOrCreate(topic).occupied.Load()
}

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

package vsm

import "time"

// OperationCount is a compact flushed unit of S1 operation telemetry: how
// many times a (system, message type) pair was dispatched since the last
// flush.
type OperationCount struct {
	System      System
	MessageType string
	Count       int64
}

// packSystemType packs a system and a hashed message type into a single
// probing key for the open-addressed table below.
func packSystemType(system System, typeID uint64) uint64 {
	return (typeID << 3) ^ (uint64(system) * 0x9e3779b97f4a7c15)
}

// operationShard is a single-writer, open-addressed accumulator for one
// shard's share of (system, message type) operation counts.
type operationShard struct {
	keys        []uint64 // 0 means empty slot
	systems     []System
	typeIDs     []uint64
	messageTypes []string
	counts      []int64
	used        int

	mask           uint64
	countThreshold int
	timeCap        time.Duration
	lastFlushAt    time.Time
}

func newOperationShard(orderPow2 uint, countThreshold int, timeCap time.Duration) *operationShard {
	n := 1 << orderPow2
	return &operationShard{
		keys:         make([]uint64, n),
		systems:      make([]System, n),
		typeIDs:      make([]uint64, n),
		messageTypes: make([]string, n),
		counts:       make([]int64, n),
		mask:         uint64(n - 1),
		countThreshold: countThreshold,
		timeCap:      timeCap,
		lastFlushAt:  time.Now(),
	}
}

func (s *operationShard) probe(k uint64) int {
	i := int(k & s.mask)
	for {
		kk := s.keys[i]
		if kk == 0 || kk == k {
			return i
		}
		i = (i + 1) & int(s.mask)
	}
}

// record increments the count for one (system, messageType) dispatch.
func (s *operationShard) record(system System, messageType string) {
	typeID := hashString(messageType)
	k := packSystemType(system, typeID)
	if k == 0 {
		k = 1 // slot 0 means empty; never let a real key collide with it
	}
	i := s.probe(k)
	if s.keys[i] == 0 {
		s.keys[i] = k
		s.systems[i] = system
		s.typeIDs[i] = typeID
		s.messageTypes[i] = messageType
		s.used++
	}
	s.counts[i]++
}

func (s *operationShard) shouldFlush() bool {
	return s.used >= s.countThreshold || time.Since(s.lastFlushAt) >= s.timeCap
}

// flush emits every occupied slot as an OperationCount and clears the
// table.
func (s *operationShard) flush(out *[]OperationCount) {
	if s.used == 0 {
		return
	}
	s.lastFlushAt = time.Now()
	for i := range s.keys {
		if s.keys[i] == 0 {
			continue
		}
		*out = append(*out, OperationCount{
			System:      s.systems[i],
			MessageType: s.messageTypes[i],
			Count:       s.counts[i],
		})
		s.keys[i] = 0
		s.systems[i] = 0
		s.typeIDs[i] = 0
		s.messageTypes[i] = ""
		s.counts[i] = 0
	}
	s.used = 0
}

// OperationAccumulator holds N independent single-writer shards of
// operation-count state, sharded so concurrent dispatch goroutines don't
// contend on one table.
type OperationAccumulator struct {
	shards []*operationShard
}

// NewOperationAccumulator builds an accumulator with shardCount shards,
// each an open-addressed table of 2^orderPow2 slots. countThreshold
// triggers an opportunistic flush by occupancy; timeCap bounds staleness
// regardless of volume.
func NewOperationAccumulator(shardCount, orderPow2, countThreshold int, timeCap time.Duration) *OperationAccumulator {
	if shardCount <= 0 {
		shardCount = 1
	}
	if orderPow2 <= 0 {
		orderPow2 = 6 // 64 slots baseline; S1-S5 x handful of message types fits easily
	}
	acc := &OperationAccumulator{shards: make([]*operationShard, shardCount)}
	for i := range acc.shards {
		acc.shards[i] = newOperationShard(uint(orderPow2), countThreshold, timeCap)
	}
	return acc
}

func (a *OperationAccumulator) shardFor(system System, messageType string) *operationShard {
	k := packSystemType(system, hashString(messageType))
	return a.shards[k%uint64(len(a.shards))]
}

// Record increments the dispatch count for (system, messageType).
func (a *OperationAccumulator) Record(system System, messageType string) {
	a.shardFor(system, messageType).record(system, messageType)
}

// FlushAll drains every shard into a single slice, regardless of whether
// that shard's own threshold has been reached.
func (a *OperationAccumulator) FlushAll() []OperationCount {
	var out []OperationCount
	for _, s := range a.shards {
		s.flush(&out)
	}
	return out
}

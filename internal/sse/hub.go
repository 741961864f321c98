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

import (
	"fmt"
	"strconv"

	"github.com/dgryski/go-rendezvous"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultShards is the number of pub-sub shard actors a Hub starts with.
// Each tenant+topic key always lands on the same shard (ordering within a
// key is preserved) via rendezvous hashing, so adding subscribers to one
// topic never contends with unrelated topics on other shards.
const DefaultShards = 8

// DefaultHistory bounds how many recent events per key a shard retains for
// last_event_id resumption.
const DefaultHistory = 256

// Hub is the in-process SSE pub-sub. It owns no shared map: all state lives
// inside its shard actors, each an independent task per §5's scheduling
// model.
type Hub struct {
	shards []*shard
	rv     *rendezvous.Rendezvous
	log    *zap.Logger
}

// NewHub starts numShards shard actors, each retaining up to historySize
// events per key for resumption.
func NewHub(numShards, historySize int, log *zap.Logger) *Hub {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	if historySize <= 0 {
		historySize = DefaultHistory
	}
	if log == nil {
		log = zap.NewNop()
	}

	names := make([]string, numShards)
	shards := make([]*shard, numShards)
	for i := 0; i < numShards; i++ {
		names[i] = strconv.Itoa(i)
		shards[i] = newShard(historySize, log)
		go shards[i].run()
	}

	return &Hub{
		shards: shards,
		rv:     rendezvous.New(names, fnvSeeded),
		log:    log,
	}
}

// Stop shuts down every shard actor.
func (h *Hub) Stop() {
	for _, sh := range h.shards {
		sh.stop()
	}
}

func (h *Hub) shardFor(key string) *shard {
	name := h.rv.Lookup(key)
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= len(h.shards) {
		return h.shards[0]
	}
	return h.shards[idx]
}

// Subscribe registers a new subscription for tenant across patterns,
// replaying any buffered events newer than lastEventID.
func (h *Hub) Subscribe(tenant string, patterns []pattern, lastEventID uint64) *Subscription {
	sub := newSubscription(uuid.NewString(), tenant, patterns)
	for base, basePatterns := range sub.bases() {
		key := tenantKey(tenant, base)
		sh := h.shardFor(key)
		done := make(chan struct{})
		sh.inbox <- subscribeCmd{
			key:         key,
			base:        base,
			entry:       subEntry{sub: sub, patterns: basePatterns},
			lastEventID: lastEventID,
			done:        done,
		}
		<-done
	}
	return sub
}

// Unsubscribe removes sub from every shard it was registered on and marks it
// closed (its Done channel); the Events channel itself is not closed.
func (h *Hub) Unsubscribe(sub *Subscription) {
	for base := range sub.bases() {
		key := tenantKey(sub.Tenant, base)
		sh := h.shardFor(key)
		sh.inbox <- unsubscribeCmd{key: key, sub: sub}
	}
	sub.Close()
}

// Publish delivers an event of eventType under tenant's base topic to every
// matching subscription, and returns the event as recorded (with its
// server-assigned id) for callers that need it (e.g. telemetry).
func (h *Hub) Publish(tenant, base, eventType string, payload []byte) (Event, error) {
	if base == "" {
		return Event{}, fmt.Errorf("sse: base topic required")
	}
	key := tenantKey(tenant, base)
	sh := h.shardFor(key)
	reply := make(chan Event, 1)
	sh.inbox <- publishCmd{key: key, base: base, eventType: eventType, payload: payload, reply: reply}
	return <-reply, nil
}

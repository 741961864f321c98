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

import (
	"container/list"
	"encoding/binary"
	"sync"
	"time"
)

// AuditEntry is one hash-chained record in a system's audited-lane trail.
type AuditEntry struct {
	System      System
	EpisodeID   string
	MessageType string
	SeqEnd      uint64
	HashPrev    [16]byte
	RecordedAt  time.Time
}

// AuditActor is a single system's ordered, hash-chained audit queue. Only
// the owning AuditRouter touches it, so the queue itself needs no locking
// beyond what AuditRouter already serializes through.
type AuditActor struct {
	system System
	prev   [16]byte
	queue  *list.List // of AuditEntry
}

func newAuditActor(system System) *AuditActor {
	return &AuditActor{system: system, queue: list.New()}
}

// append links entry into the chain via a hash of (system, seqEnd, previous
// link) and pushes it onto the ordered queue.
func (a *AuditActor) append(entry AuditEntry, now time.Time) AuditEntry {
	a.prev = hash128(uint64(a.system), entry.SeqEnd,
		binary.LittleEndian.Uint64(a.prev[0:8]), binary.LittleEndian.Uint64(a.prev[8:16]))
	entry.HashPrev = a.prev
	entry.RecordedAt = now
	a.queue.PushBack(entry)
	return entry
}

// drain returns every queued entry in order and clears the queue.
func (a *AuditActor) drain() []AuditEntry {
	var out []AuditEntry
	for e := a.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(AuditEntry))
	}
	a.queue.Init()
	return out
}

// AuditRouter holds one AuditActor per VSM subsystem. The set of systems is
// fixed and small, so every actor is created up front - the same static
// dispatch table shape Router uses, applied to the audit trail.
type AuditRouter struct {
	mu     sync.Mutex
	actors map[System]*AuditActor
}

// NewAuditRouter builds an AuditRouter with one actor pre-created for every
// system in Systems.
func NewAuditRouter() *AuditRouter {
	r := &AuditRouter{actors: make(map[System]*AuditActor, len(Systems))}
	for _, s := range Systems {
		r.actors[s] = newAuditActor(s)
	}
	return r
}

// Append records entry against its target system's audit chain and returns
// the entry with HashPrev and RecordedAt populated.
func (r *AuditRouter) Append(entry AuditEntry) AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.actors[entry.System]
	if !ok {
		actor = newAuditActor(entry.System)
		r.actors[entry.System] = actor
	}
	return actor.append(entry, time.Now())
}

// Drain returns (and clears) every queued audit entry for system, in the
// order they were appended.
func (r *AuditRouter) Drain(system System) []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.actors[system]
	if !ok {
		return nil
	}
	return actor.drain()
}

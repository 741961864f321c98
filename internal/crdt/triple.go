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

// Package crdt implements the context graph: a replicated, add-wins
// last-writer-wins map of semantic triples, synced between replicas by
// periodic debounced delta shipping.
package crdt

import "hash/fnv"

// Triple identifies a (subject, predicate, object) fact.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// Key is the triple's binary-encoded map key: an FNV-1a idiom extended to
// mix three fields instead of one.
type Key [16]byte

// KeyOf computes t's binary key.
func KeyOf(t Triple) Key {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.Subject))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(t.Predicate))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(t.Object))
	s1 := h.Sum64()

	_, _ = h.Write([]byte{1})
	s2 := h.Sum64()

	var out Key
	putUint64(out[0:8], s1)
	putUint64(out[8:16], s2)
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Record is a stored or in-flight triple value: the fact itself, caller
// metadata, the LWW timestamp/site pair that orders concurrent writes, and
// whether this record represents a removal (tombstone).
type Record struct {
	Triple    Triple
	Meta      map[string]string
	Tombstone bool

	TimestampMs int64
	Site        string
}

// wins reports whether candidate should replace current under add-wins LWW:
// higher (timestamp_ms, site) wins; on an exact tie a remove beats a put.
func (r Record) wins(candidate Record) bool {
	if candidate.TimestampMs != r.TimestampMs {
		return candidate.TimestampMs > r.TimestampMs
	}
	if candidate.Site != r.Site {
		return candidate.Site > r.Site
	}
	return candidate.Tombstone && !r.Tombstone
}

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
	"encoding/binary"
	"hash/fnv"
)

// hash128 computes a 128-bit, non-cryptographic digest over a sequence of
// uint64 parts via two rounds of FNV-1a.
func hash128(parts ...uint64) (out [16]byte) {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, p := range parts {
		binary.LittleEndian.PutUint64(buf, p)
		_, _ = h.Write(buf)
	}
	s1 := h.Sum64()
	binary.LittleEndian.PutUint64(buf, uint64(len(parts))^0x9e3779b97f4a7c15)
	_, _ = h.Write(buf)
	s2 := h.Sum64()
	binary.LittleEndian.PutUint64(out[0:8], s1)
	binary.LittleEndian.PutUint64(out[8:16], s2)
	return
}

// hashString returns a stable 64-bit id for a string.
func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// fnvSeeded matches go-rendezvous's Hasher signature, mixing an 8-byte
// little-endian seed into an FNV-1a digest before writing s - the same
// idiom internal/sse and internal/crdt each keep their own private copy of.
func fnvSeeded(s string, seed uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

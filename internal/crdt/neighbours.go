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

import "github.com/dgryski/go-rendezvous"

// pickNeighbours chooses up to n peers from candidates via rendezvous
// hashing keyed by seedKey (the local site id), rebuilding the ranking
// after each pick so the same peer set always yields the same ordered
// neighbour list regardless of iteration order.
func pickNeighbours(seedKey string, candidates []string, n int) []string {
	remaining := append([]string(nil), candidates...)
	chosen := make([]string, 0, n)

	for len(chosen) < n && len(remaining) > 0 {
		rv := rendezvous.New(remaining, fnvSeeded)
		pick := rv.Lookup(seedKey)
		chosen = append(chosen, pick)
		remaining = removeString(remaining, pick)
	}
	return chosen
}

func removeString(xs []string, target string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != target {
			out = append(out, x)
		}
	}
	return out
}

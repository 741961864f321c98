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

package envelope

import "sync/atomic"

// KeyRing holds the currently active signing key plus enough prior keys to
// verify in-flight messages signed before the last rotation. Readers never
// block a writer performing Rotate, and Rotate never blocks a concurrent
// Sign/Verify: the whole ring is swapped atomically.
type KeyRing struct {
	ring atomic.Pointer[ringState]
}

type ringState struct {
	activeID string
	secrets  map[string][]byte // key_id -> secret, includes active and retained prior keys
}

// NewKeyRing constructs a KeyRing with a single active key.
func NewKeyRing(activeID string, secret []byte) *KeyRing {
	kr := &KeyRing{}
	kr.ring.Store(&ringState{
		activeID: activeID,
		secrets:  map[string][]byte{activeID: secret},
	})
	return kr
}

// ActiveKeyID returns the id of the key currently used to sign new envelopes.
func (kr *KeyRing) ActiveKeyID() string {
	return kr.ring.Load().activeID
}

// Secret returns the secret registered for keyID, including retained prior
// keys kept around to verify messages signed before the last rotation.
func (kr *KeyRing) Secret(keyID string) ([]byte, bool) {
	s, ok := kr.ring.Load().secrets[keyID]
	return s, ok
}

// Rotate installs a new active key, retaining the previous active key (and
// any already-retained keys) so envelopes signed moments before the
// rotation still verify.
func (kr *KeyRing) Rotate(newID string, newSecret []byte) {
	old := kr.ring.Load()
	next := &ringState{
		activeID: newID,
		secrets:  make(map[string][]byte, len(old.secrets)+1),
	}
	for id, secret := range old.secrets {
		next.secrets[id] = secret
	}
	next.secrets[newID] = newSecret
	kr.ring.Store(next)
}

// Retire removes a key from the ring entirely, once its holder is certain no
// in-flight envelope still references it. Retiring the active key is a
// no-op; callers must Rotate first.
func (kr *KeyRing) Retire(keyID string) {
	old := kr.ring.Load()
	if keyID == old.activeID {
		return
	}
	if _, ok := old.secrets[keyID]; !ok {
		return
	}
	next := &ringState{
		activeID: old.activeID,
		secrets:  make(map[string][]byte, len(old.secrets)),
	}
	for id, secret := range old.secrets {
		if id == keyID {
			continue
		}
		next.secrets[id] = secret
	}
	kr.ring.Store(next)
}

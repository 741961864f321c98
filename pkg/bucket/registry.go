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

package bucket

import (
	"sync"
	"sync/atomic"
	"time"
)

type managedBucket struct {
	instance     *Bucket
	lastAccessed int64
}

// Registry manages one Bucket per key (tenant, API key, or route), creating
// them lazily and evicting idle ones. It is the multi-tenant analogue of the
// teacher's single global Store.
type Registry struct {
	buckets    sync.Map
	capacity   int64
	refillRate float64
	idleAfter  time.Duration

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a Registry whose Buckets all share the given default
// capacity and refill rate until a policy calls SetCapacity on a specific
// key's Bucket. idleAfter is how long a key may go unaccessed before the
// background sweep evicts it.
func NewRegistry(capacity int64, refillRate float64, idleAfter time.Duration) *Registry {
	r := &Registry{
		capacity:   capacity,
		refillRate: refillRate,
		idleAfter:  idleAfter,
		stopCh:     make(chan struct{}),
	}
	go r.runEviction()
	return r
}

// GetOrCreate returns the Bucket for key, creating it on first access.
func (r *Registry) GetOrCreate(key string) *Bucket {
	if actual, ok := r.buckets.Load(key); ok {
		managed := actual.(*managedBucket)
		atomic.StoreInt64(&managed.lastAccessed, time.Now().UnixNano())
		return managed.instance
	}

	now := time.Now().UnixNano()
	inst := New(r.capacity, r.refillRate)
	fresh := &managedBucket{instance: inst, lastAccessed: now}
	if actual, loaded := r.buckets.LoadOrStore(key, fresh); loaded {
		inst.Close()
		managed := actual.(*managedBucket)
		atomic.StoreInt64(&managed.lastAccessed, now)
		return managed.instance
	}
	return fresh.instance
}

// Delete removes and closes the Bucket for key, if present.
func (r *Registry) Delete(key string) {
	if v, ok := r.buckets.LoadAndDelete(key); ok {
		v.(*managedBucket).instance.Close()
	}
}

func (r *Registry) runEviction() {
	t := time.NewTicker(r.idleAfter)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			cutoff := time.Now().Add(-r.idleAfter).UnixNano()
			var stale []string
			r.buckets.Range(func(key, value interface{}) bool {
				managed := value.(*managedBucket)
				if atomic.LoadInt64(&managed.lastAccessed) < cutoff {
					stale = append(stale, key.(string))
				}
				return true
			})
			for _, key := range stale {
				r.Delete(key)
			}
		case <-r.stopCh:
			return
		}
	}
}

// CloseAll stops the eviction sweep and every managed Bucket. Call at
// shutdown.
func (r *Registry) CloseAll() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
	})
	r.buckets.Range(func(_, value interface{}) bool {
		value.(*managedBucket).instance.Close()
		return true
	})
}

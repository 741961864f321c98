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

// Package replay detects replayed message envelopes by nonce. A bloom filter
// gives a fast, memory-bounded "definitely new" / "maybe seen" check; an
// exact map with TTL backs it so seen nonces can be evicted precisely once
// they age out of the replay window (a bloom filter alone can only grow, it
// can never forget one element).
package replay

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Config controls the filter's capacity and false-positive rate.
type Config struct {
	ExpectedItems     uint
	FalsePositiveRate float64
	Window            time.Duration
}

// DefaultConfig returns the documented sizing: N=100,000, ε=10⁻³.
func DefaultConfig() Config {
	return Config{
		ExpectedItems:     100_000,
		FalsePositiveRate: 1e-3,
		Window:            90 * time.Second,
	}
}

type entry struct {
	seenAt time.Time
}

// Ledger tracks which nonces have already been admitted within the replay
// window.
type Ledger struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]entry
	window time.Duration
	fpRate float64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// New constructs a Ledger from cfg.
func New(cfg Config) *Ledger {
	if cfg.ExpectedItems == 0 {
		cfg.ExpectedItems = DefaultConfig().ExpectedItems
	}
	if cfg.FalsePositiveRate == 0 {
		cfg.FalsePositiveRate = DefaultConfig().FalsePositiveRate
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultConfig().Window
	}
	l := &Ledger{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		exact:  make(map[string]entry, cfg.ExpectedItems/4),
		window: cfg.Window,
		fpRate: cfg.FalsePositiveRate,
		stopCh: make(chan struct{}),
	}
	go l.runCompaction()
	return l
}

// CheckAndRemember reports whether nonce has already been seen within the
// window. If not, it records the nonce as seen and returns false. Callers
// must treat a true return as a replay and reject the envelope.
func (l *Ledger) CheckAndRemember(nonce string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.filter.TestString(nonce) {
		// Definitely new: bloom says no, trust it without touching the map.
		l.filter.AddString(nonce)
		l.exact[nonce] = entry{seenAt: now}
		return false
	}

	// Bloom says maybe: consult the exact map to rule out a false positive.
	if e, ok := l.exact[nonce]; ok {
		if now.Sub(e.seenAt) <= l.window {
			return true
		}
		// Aged out of the window; treat as a fresh nonce.
		l.exact[nonce] = entry{seenAt: now}
		return false
	}

	// Bloom false positive: not actually in the exact map. Record it now.
	l.exact[nonce] = entry{seenAt: now}
	return false
}

// Len reports the number of nonces currently tracked in the exact map, for
// metrics and tests.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.exact)
}

// runCompaction periodically evicts expired entries from the exact map and
// rebuilds the bloom filter from the survivors, since the filter itself
// cannot forget individual items.
func (l *Ledger) runCompaction() {
	t := time.NewTicker(l.window / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.compact()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Ledger) compact() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	survivors := make(map[string]entry, len(l.exact))
	for nonce, e := range l.exact {
		if now.Sub(e.seenAt) <= l.window {
			survivors[nonce] = e
		}
	}
	if len(survivors) == len(l.exact) {
		return // nothing expired; rebuilding the filter would be wasted work
	}
	l.exact = survivors
	rebuilt := bloom.NewWithEstimates(uint(len(survivors)+1), l.fpRate)
	for nonce := range survivors {
		rebuilt.AddString(nonce)
	}
	l.filter = rebuilt
}

// Close stops the background compaction goroutine.
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.stopCh)
	})
}

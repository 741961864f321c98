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

package persistence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// MockPersister commits entries to process stdout instead of a real backend.
// It is the default adapter for local development.
type MockPersister struct {
	mu            sync.Mutex
	totalEntries  int64
	totalMagnitude int64
	totalBatches  int64
}

// NewMockPersister creates a console-logging IdempotentPersister.
func NewMockPersister() *MockPersister {
	return &MockPersister{}
}

// CommitBatch logs each entry and accumulates summary counters. It never
// fails, matching the contract that the mock adapter is always available.
func (p *MockPersister) CommitBatch(ctx context.Context, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	fmt.Printf("[%s] committing batch of %d entries\n", time.Now().Format(time.RFC3339), len(entries))

	var magnitude int64
	for _, e := range entries {
		v := e.Delta
		if v < 0 {
			v = -v
		}
		magnitude += v
		fmt.Printf("  - key=%-24s delta=%-8d commit_id=%s\n", e.Key, e.Delta, e.CommitID)
	}

	p.mu.Lock()
	p.totalEntries += int64(len(entries))
	p.totalMagnitude += magnitude
	p.totalBatches++
	p.mu.Unlock()
	return nil
}

// PrintSummary prints a single end-of-process summary, colored the way the
// console telemetry renderer does (see internal/telemetry), replacing the
// raw ANSI escape codes the demo persister used to hand-roll.
func (p *MockPersister) PrintSummary() {
	p.mu.Lock()
	entries, magnitude, batches := p.totalEntries, p.totalMagnitude, p.totalBatches
	p.mu.Unlock()

	yellow := color.New(color.FgYellow)
	sep := strings.Repeat("-", 60)
	yellow.Printf("[%s] final persistence summary\n", time.Now().Format(time.RFC3339))
	fmt.Println(sep)
	fmt.Printf("%-18s %12s\n", "metric", "value")
	fmt.Println(sep)
	fmt.Printf("%-18s %12d\n", "entries", entries)
	fmt.Printf("%-18s %12d\n", "batches", batches)
	fmt.Printf("%-18s %12d\n", "magnitude", magnitude)
	fmt.Println(sep)
}

var _ IdempotentPersister = (*MockPersister)(nil)

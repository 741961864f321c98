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

package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"cybernetic/internal/vsm"
)

// ReporterConfig controls Reporter's periodic console report.
type ReporterConfig struct {
	// FlushInterval is how often the coalescence tracker is snapshotted and
	// (if Live) printed. Zero disables the periodic loop - Snapshot/Report
	// can still be called directly.
	FlushInterval time.Duration
	// IdleTTL is how long a coalescence topic may go unseen before
	// Snapshot evicts it. Defaults to one hour.
	IdleTTL time.Duration
	// Live prints a single self-overwriting console line per flush instead
	// of one line per flush, for interactive terminals.
	Live bool
	// TopN bounds how many coalescence topics the console report names.
	TopN int
}

// Reporter ties a CoalescenceTracker to a periodic console report and
// doubles as an vsm.OperationTelemetrySink, so the VSM router's flushed
// operation counts feed straight into the operations_total Prometheus
// counter without an intermediate adapter. State lives on the instance
// rather than in package-level globals, so multiple reporters never
// collide.
type Reporter struct {
	tracker *CoalescenceTracker
	opts    ReporterConfig

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	livePrinted atomic.Bool
	prevLineLen atomic.Int64
}

// NewReporter constructs a Reporter backed by a fresh CoalescenceTracker.
func NewReporter(opts ReporterConfig) *Reporter {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	return &Reporter{
		tracker: NewCoalescenceTracker(opts.IdleTTL),
		opts:    opts,
	}
}

// Tracker exposes the reporter's coalescence tracker so components can
// record admits/grants without reaching into package internals.
func (r *Reporter) Tracker() *CoalescenceTracker { return r.tracker }

// OnOperationCounts implements vsm.OperationTelemetrySink: every flushed
// batch is projected straight onto the operations_total counter, labeled by
// system and message type.
func (r *Reporter) OnOperationCounts(counts []vsm.OperationCount) {
	for _, c := range counts {
		operationsTotal.WithLabelValues(c.System.String(), c.MessageType).Add(float64(c.Count))
	}
}

// Start launches the periodic snapshot/report loop if FlushInterval > 0.
// Safe to call once; a zero FlushInterval makes Start a no-op.
func (r *Reporter) Start() {
	if r.opts.FlushInterval <= 0 {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run()
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.stopCh:
			return
		}
	}
}

// Stop halts the periodic loop, if running.
func (r *Reporter) Stop() {
	if r.stopCh == nil {
		return
	}
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Report takes an immediate snapshot and prints it, regardless of whether
// the periodic loop is running.
func (r *Reporter) Report() { r.report() }

func (r *Reporter) report() {
	snaps := r.tracker.Snapshot()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Ratio > snaps[j].Ratio })
	if len(snaps) > r.opts.TopN {
		snaps = snaps[:r.opts.TopN]
	}

	summary := fmt.Sprintf("coalescence topics=%d", len(snaps))
	var top string
	if len(snaps) > 0 {
		s := snaps[0]
		ratioTxt := colorRatio(s.Ratio, fmt.Sprintf("%.3f", s.Ratio))
		top = fmt.Sprintf("top topic=%s ratio=%s admits=%d grants=%d", s.Topic, ratioTxt, s.Admits, s.Grants)
	} else {
		top = "top topic: (none yet)"
	}

	line := summary + " | " + top
	if r.opts.Live {
		r.renderLive(line)
		return
	}
	fmt.Printf("[%s] %s\n", time.Now().Format(time.RFC3339), line)
}

// renderLive overwrites the previous console line in place via a carriage
// return; a multi-line ANSI-cursor-movement variant isn't worth the
// complexity for a one-line report.
func (r *Reporter) renderLive(line string) {
	pad := int(r.prevLineLen.Load()) - len(line)
	if pad < 0 {
		pad = 0
	}
	if !r.livePrinted.Load() {
		fmt.Print(line)
		r.livePrinted.Store(true)
	} else {
		fmt.Printf("\r%s%s", line, strings.Repeat(" ", pad))
	}
	r.prevLineLen.Store(int64(len(line)))
}

// colorRatio renders a coalescence ratio in green when admits heavily
// outweigh grants (good coalescing), yellow when roughly even, red when
// every admit is its own grant (no coalescing at all).
func colorRatio(ratio float64, txt string) string {
	switch {
	case ratio >= 3.0:
		return color.GreenString(txt)
	case ratio >= 1.5:
		return color.YellowString(txt)
	default:
		return color.RedString(txt)
	}
}

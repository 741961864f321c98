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
	"sync"
	"time"
)

// OperationTelemetrySink consumes flushed operation-count batches, e.g. to
// forward them into internal/telemetry. Implementations must be
// non-blocking or bounded in latency; otherwise backpressure propagates
// into dispatch.
type OperationTelemetrySink interface {
	OnOperationCounts([]OperationCount)
}

// recordEvent is what Record enqueues onto the service's ingress channel.
type recordEvent struct {
	system      System
	messageType string
}

// OperationTelemetryServiceOptions configures the background flush service.
type OperationTelemetryServiceOptions struct {
	// Buffer bounds the ingress channel. Default 4096.
	Buffer int
	// FlushInterval is the periodic flush cadence. Default 2ms, matching S1's
	// tail-latency bound on telemetry visibility.
	FlushInterval time.Duration
}

// OperationTelemetryService is a single-worker service that ingests S1
// dispatch events, accumulates per-(system,type) counts via an
// OperationAccumulator, and periodically flushes them to a sink. It
// enforces a time-capped batching policy regardless of dispatch volume.
type OperationTelemetryService struct {
	acc  *OperationAccumulator
	sink OperationTelemetrySink

	in     chan recordEvent
	stopCh chan struct{}
	doneCh chan struct{}
	opts   OperationTelemetryServiceOptions
	once   sync.Once

	flushNowCh chan struct{}
}

// NewOperationTelemetryService constructs a service. acc must be exclusive
// to this service goroutine; callers interact only via Record.
func NewOperationTelemetryService(acc *OperationAccumulator, sink OperationTelemetrySink, opts OperationTelemetryServiceOptions) *OperationTelemetryService {
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Millisecond
	}
	return &OperationTelemetryService{
		acc:        acc,
		sink:       sink,
		in:         make(chan recordEvent, opts.Buffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		opts:       opts,
		flushNowCh: make(chan struct{}, 1),
	}
}

// Start launches the background worker.
func (s *OperationTelemetryService) Start() {
	s.once.Do(func() {
		go s.run()
	})
}

// Stop asks the worker to stop, performs a final flush, and waits for
// completion.
func (s *OperationTelemetryService) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Flush requests an immediate best-effort flush on the service goroutine.
// Non-blocking: a pending flush request already queued makes this a no-op.
func (s *OperationTelemetryService) Flush() {
	select {
	case s.flushNowCh <- struct{}{}:
	default:
	}
}

// Record enqueues one dispatch event. It blocks if the buffer is full.
func (s *OperationTelemetryService) Record(system System, messageType string) {
	s.in <- recordEvent{system: system, messageType: messageType}
}

// TryRecord attempts to enqueue without blocking. Returns false if the
// buffer is full, in which case the caller should not retry on the hot
// path - a dropped telemetry count is acceptable, a stalled dispatch is
// not.
func (s *OperationTelemetryService) TryRecord(system System, messageType string) bool {
	select {
	case s.in <- recordEvent{system: system, messageType: messageType}:
		return true
	default:
		return false
	}
}

func (s *OperationTelemetryService) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		counts := s.acc.FlushAll()
		if len(counts) == 0 || s.sink == nil {
			return
		}
		s.sink.OnOperationCounts(counts)
	}

	for {
		select {
		case ev := <-s.in:
			s.acc.Record(ev.system, ev.messageType)
		case <-ticker.C:
			flush()
		case <-s.flushNowCh:
			flush()
		case <-s.stopCh:
			for {
				select {
				case ev := <-s.in:
					s.acc.Record(ev.system, ev.messageType)
				default:
					flush()
					return
				}
			}
		}
	}
}

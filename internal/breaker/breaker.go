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

// Package breaker implements the S3 adaptive circuit breaker: a
// closed/open/half-open state machine per named downstream, with a health
// score that decays on failure and recovers on success, an adaptive failure
// threshold blended by EMA, and jittered exponential backoff before each
// recovery attempt. Call is the one place in the control plane allowed to
// recover() an arbitrary panic from wrapped work and turn it into a failure
// signal, isolating a background task's panics from the rest of the
// process.
package breaker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"cybernetic/internal/errs"
)

// State is a breaker's position in the closed/open/half-open machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config bounds a breaker's thresholds and backoff.
type Config struct {
	FailureThreshold float64 // initial adaptive_threshold
	SuccessThreshold int     // consecutive successes to close from half-open
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	EMAAlpha         float64
}

// DefaultConfig matches internal/config.Defaults' documented values.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		BaseBackoff:      time.Second,
		MaxBackoff:       5 * time.Minute,
		EMAAlpha:         0.3,
	}
}

// Breaker is a single named circuit breaker.
type Breaker struct {
	name string
	cfg  Config
	log  *zap.Logger

	mu                sync.Mutex
	state             State
	failures          int
	successes         int
	healthScore       float64
	adaptiveThreshold float64
	backoff           time.Duration
	recoveryTimer     *time.Timer
}

func newBreaker(name string, cfg Config, log *zap.Logger) *Breaker {
	return &Breaker{
		name:              name,
		cfg:               cfg,
		log:               log,
		state:             Closed,
		healthScore:       1.0,
		adaptiveThreshold: cfg.FailureThreshold,
		backoff:           cfg.BaseBackoff,
	}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// HealthScore reports the breaker's current health score in [0,1].
func (b *Breaker) HealthScore() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthScore
}

// Call invokes fn under the breaker's protection. In the open state it
// returns errs.ErrCircuitOpen without calling fn. In closed or half-open it
// runs fn with the given timeout, recovering any panic as a failure signal,
// and records the outcome against the state machine.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error, timeout time.Duration) error {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state == Open {
		return errs.ErrCircuitOpen
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("breaker: recovered panic in %q: %v", b.name, r)
			}
		}()
		done <- fn(callCtx)
	}()

	var callErr error
	select {
	case callErr = <-done:
	case <-callCtx.Done():
		callErr = errs.ErrHandlerTimeout
	}

	if callErr != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return callErr
}

// ReportFailure records a failure against the breaker outside of Call, for
// callers (internal/edge's HTTP handlers) that cannot express their work as
// a single fn(ctx) error and instead decide success/failure from a result
// they already have (e.g. an HTTP status code).
func (b *Breaker) ReportFailure() {
	b.recordFailure()
}

// ReportSuccess records a success against the breaker outside of Call.
func (b *Breaker) ReportSuccess() {
	b.recordSuccess()
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.healthScore = math.Max(0, b.healthScore-0.2)

	switch b.state {
	case Closed:
		b.failures++
		if float64(b.failures) >= b.adaptiveThreshold {
			b.transitionToOpenLocked()
		}
	case HalfOpen:
		b.transitionToOpenLocked()
	}
	b.reportState()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.healthScore = math.Min(1, b.healthScore+0.1)

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionToClosedLocked()
		}
	}
	b.reportState()
}

// transitionToOpenLocked moves the breaker to open, cancels any pending
// recovery timer, and reschedules recovery with increased backoff. Must be
// called with b.mu held.
func (b *Breaker) transitionToOpenLocked() {
	if b.recoveryTimer != nil {
		b.recoveryTimer.Stop()
	}
	wasHalfOpen := b.state == HalfOpen
	b.state = Open
	b.failures = 0
	b.successes = 0

	if wasHalfOpen {
		b.backoff = nextBackoff(b.backoff, b.cfg.MaxBackoff)
	} else {
		b.backoff = b.cfg.BaseBackoff
	}
	delay := jitter(b.backoff)
	tripsTotal.WithLabelValues(b.name).Inc()

	if b.log != nil {
		b.log.Warn("breaker tripped open", zap.String("name", b.name), zap.Duration("backoff", delay))
	}

	b.recoveryTimer = time.AfterFunc(delay, b.enterHalfOpen)
}

func (b *Breaker) enterHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return
	}
	b.state = HalfOpen
	b.successes = 0
	b.reportState()
	if b.log != nil {
		b.log.Info("breaker entering half-open", zap.String("name", b.name))
	}
}

func (b *Breaker) transitionToClosedLocked() {
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.backoff = b.cfg.BaseBackoff
	if b.log != nil {
		b.log.Info("breaker closed", zap.String("name", b.name))
	}
}

// AdjustThreshold blends the adaptive_threshold by EMA toward a target
// derived from systemHealth and errorRate, per §4.5:
// suggested = base * health_factor * (1 - error_rate), health_factor = 1.2
// if system_health > 0.8 else 0.8, clamped to [2, 20].
func (b *Breaker) AdjustThreshold(systemHealth, errorRate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	healthFactor := 0.8
	if systemHealth > 0.8 {
		healthFactor = 1.2
	}
	suggested := b.cfg.FailureThreshold * healthFactor * (1 - errorRate)
	alpha := b.cfg.EMAAlpha
	if alpha <= 0 {
		alpha = DefaultConfig().EMAAlpha
	}
	next := b.adaptiveThreshold*(1-alpha) + suggested*alpha
	b.adaptiveThreshold = math.Min(20, math.Max(2, next))
}

// nextBackoff doubles the prior backoff, capped at max.
func nextBackoff(prior, max time.Duration) time.Duration {
	next := prior * 2
	if next <= 0 || next > max {
		return max
	}
	return next
}

// jitter applies +/-25% full jitter around d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := d / 4
	return d - spread + time.Duration(rand.Int63n(int64(2*spread+1)))
}

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
	"context"
	"fmt"
	"time"

	"cybernetic/internal/breaker"
	"cybernetic/internal/coordinator"
	"cybernetic/internal/errs"
	"cybernetic/internal/policy"
	"cybernetic/pkg/bucket"
)

// s4LLMBudgetKey is the rate-limiter key S4's episode analysis charges
// against, per spec §4.10: "budget consumption goes through S3's limiter
// with the s4_llm budget key".
const s4LLMBudgetKey = "s4_llm"

// PipelineOptions configures a Pipeline's lanes and subsystem wiring. The
// subsystem fields (Coordinator, Breakers, Limiter, Policies) are expected
// to already be constructed and shared with the rest of the process -
// Pipeline does not own their lifecycle beyond Start/Stop of its own
// router and telemetry service.
type PipelineOptions struct {
	Workers int

	ShardCount     int
	OrderPow2      int
	CountThreshold int
	TimeCap        time.Duration

	TelemetrySink          OperationTelemetrySink
	TelemetryBuffer        int
	TelemetryFlushInterval time.Duration

	Coordinator *coordinator.Coordinator // S2
	Breakers    *breaker.Registry        // S3
	Limiter     *bucket.Registry         // S3
	Provider    Provider                 // S4, defaults to NoopProvider
	Policies    *policy.Registry         // S5
}

// Pipeline is the façade wiring the VSM router, its audit trail, its
// operation-telemetry service, and the four subsystems S1-S5 reach into
// (S2's coordinator, S3's limiter and breaker registry, S4's provider, S5's
// policy registry) behind a minimal API: a thin façade with the domain
// logic kept outside it.
type Pipeline struct {
	Router *Router
	Audit  *AuditRouter

	telemetry *OperationTelemetryService

	coord     *coordinator.Coordinator
	breakers  *breaker.Registry
	limiter   *bucket.Registry
	provider  Provider
	policies  *policy.Registry
}

// NewPipeline constructs and wires a Pipeline per opts.
func NewPipeline(opts PipelineOptions) *Pipeline {
	acc := NewOperationAccumulator(opts.ShardCount, opts.OrderPow2, opts.CountThreshold, opts.TimeCap)
	svc := NewOperationTelemetryService(acc, opts.TelemetrySink, OperationTelemetryServiceOptions{
		Buffer:        opts.TelemetryBuffer,
		FlushInterval: opts.TelemetryFlushInterval,
	})

	provider := opts.Provider
	if provider == nil {
		provider = NoopProvider{}
	}

	return &Pipeline{
		Router:    NewRouter(opts.Workers),
		Audit:     NewAuditRouter(),
		telemetry: svc,
		coord:     opts.Coordinator,
		breakers:  opts.Breakers,
		limiter:   opts.Limiter,
		provider:  provider,
		policies:  opts.Policies,
	}
}

// Start launches the router's worker pool and the telemetry service.
func (p *Pipeline) Start() {
	p.Router.Start()
	p.telemetry.Start()
}

// Stop stops the telemetry service (final flush included) and the router's
// worker pool.
func (p *Pipeline) Stop() {
	p.telemetry.Stop()
	p.Router.Stop()
}

// FlushTelemetry requests an immediate best-effort operation-telemetry
// flush; see OperationTelemetryService.Flush.
func (p *Pipeline) FlushTelemetry() { p.telemetry.Flush() }

// Dispatch classifies in, records S1 operation telemetry for the pair, and
// - if classification forces the audited lane - appends an audit entry
// before handing ep to the target system's registered handler.
func (p *Pipeline) Dispatch(ctx context.Context, in RouteInput, ep Episode) error {
	lane, err := Classify(in)
	if err != nil {
		return err
	}

	p.telemetry.TryRecord(in.System, in.MessageType)

	if lane == LaneAudited {
		p.Audit.Append(AuditEntry{
			System:      in.System,
			EpisodeID:   in.EpisodeID,
			MessageType: in.MessageType,
			SeqEnd:      in.SeqEnd,
		})
	}

	return p.Router.Dispatch(ctx, in, ep)
}

// ForwardToS2 implements "S1 forwards significant operations to S2": it
// reserves a fair-share slot on the coordinator keyed by the episode kind,
// dispatches to S2's "coordinate" handler as a forced cross-system hop
// (always audited), and releases the slot whether or not the handler
// succeeded.
func (p *Pipeline) ForwardToS2(ctx context.Context, ep Episode) error {
	if p.coord == nil {
		return fmt.Errorf("%w: no coordinator configured", errs.ErrHandlerException)
	}
	if !p.coord.ReserveSlot(ep.Kind) {
		return errs.ErrRateLimited
	}
	defer p.coord.ReleaseSlot(ep.Kind)

	return p.Dispatch(ctx, RouteInput{
		System:      SystemS2,
		MessageType: "coordinate",
		EpisodeID:   ep.ID,
		CrossSystem: true,
	}, ep)
}

// CallThroughBreaker runs fn through S3's named circuit breaker, the one
// place outside the breaker package itself allowed to rely on Call's
// panic-recovery behavior for VSM-originated work.
func (p *Pipeline) CallThroughBreaker(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if p.breakers == nil {
		return fmt.Errorf("%w: no breaker registry configured", errs.ErrHandlerException)
	}
	return p.breakers.Get(name).Call(ctx, fn, timeout)
}

// ChargeS4Budget consumes n units from S3's s4_llm token bucket at the
// given priority. It reports false if the budget is exhausted.
func (p *Pipeline) ChargeS4Budget(n int64, priority bucket.Priority) bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.GetOrCreate(s4LLMBudgetKey).Consume(n, priority)
}

// AnalyzeEpisode implements S4: it charges one unit against S3's s4_llm
// budget, then hands ep to the configured Provider. A budget miss is
// surfaced as errs.ErrRateLimited without ever calling the provider.
func (p *Pipeline) AnalyzeEpisode(ctx context.Context, ep Episode) (Analysis, error) {
	if !p.ChargeS4Budget(1, bucket.PriorityNormal) {
		return Analysis{}, errs.ErrRateLimited
	}
	return p.provider.Analyze(ctx, ep)
}

// EvaluatePolicies implements S5: it evaluates every named policy's active
// version against env (identity/tenant metadata plus request context),
// short-circuiting on first deny.
func (p *Pipeline) EvaluatePolicies(ids []string, env map[string]any) (policy.Decision, error) {
	if p.policies == nil {
		return policy.Deny, fmt.Errorf("%w: no policy registry configured", errs.ErrValidationFailed)
	}
	return p.policies.EvaluateAll(ids, env)
}

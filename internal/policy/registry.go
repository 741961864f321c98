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

package policy

import (
	"fmt"
	"sync"

	"cybernetic/internal/errs"
)

// Registry holds every registered version of every policy, plus which
// version of each is currently active. Registering a new version never
// replaces an older one; rollback is a pointer swap via SetActiveVersion.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]map[int]*Policy
	active   map[string]int
	opts     EvalOptions
}

// NewRegistry builds an empty registry. opts bounds every evaluation run
// through the registry; zero values fall back to DefaultMaxDepth and
// DefaultTimeout.
func NewRegistry(opts EvalOptions) *Registry {
	return &Registry{
		policies: make(map[string]map[int]*Policy),
		active:   make(map[string]int),
		opts:     opts.withDefaults(),
	}
}

// Register parses and validates source, stores it as the next version of
// id, and activates it. It returns the new version number.
func (r *Registry) Register(id, source string) (int, error) {
	rules, err := ParseRules(source)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.policies[id]
	if !ok {
		versions = make(map[int]*Policy)
		r.policies[id] = versions
	}
	next := len(versions) + 1
	versions[next] = &Policy{ID: id, Version: next, Rules: rules, Source: source}
	r.active[id] = next
	return next, nil
}

// SetActiveVersion rolls a policy forward or back to an already-registered
// version, in O(1).
func (r *Registry) SetActiveVersion(id string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.policies[id]
	if !ok {
		return fmt.Errorf("%w: unknown policy %q", errs.ErrValidationFailed, id)
	}
	if _, ok := versions[version]; !ok {
		return fmt.Errorf("%w: policy %q has no version %d", errs.ErrValidationFailed, id, version)
	}
	r.active[id] = version
	return nil
}

// Get returns the active version of policy id.
func (r *Registry) Get(id string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.active[id]
	if !ok {
		return nil, false
	}
	p, ok := r.policies[id][v]
	return p, ok
}

// ActiveVersion reports which version of id is currently active.
func (r *Registry) ActiveVersion(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.active[id]
	return v, ok
}

// Evaluate runs the active version of a single policy's rules in order
// (§4.9): a failing require denies immediately, a passing allow allows
// immediately, a passing deny denies immediately, and reaching the end of
// the rule list denies by default.
func (r *Registry) Evaluate(id string, env map[string]any) (Decision, error) {
	p, ok := r.Get(id)
	if !ok {
		return Deny, fmt.Errorf("%w: unknown policy %q", errs.ErrValidationFailed, id)
	}
	return evaluatePolicy(p, env, r.opts)
}

// EvaluateAll runs every named policy's active version in order and
// short-circuits on the first deny.
func (r *Registry) EvaluateAll(ids []string, env map[string]any) (Decision, error) {
	for _, id := range ids {
		d, err := r.Evaluate(id, env)
		if err != nil {
			return Deny, err
		}
		if d == Deny {
			return Deny, nil
		}
	}
	return Allow, nil
}

func evaluatePolicy(p *Policy, env map[string]any, opts EvalOptions) (Decision, error) {
	for _, rule := range p.Rules {
		ok, err := EvaluateCondition(rule.Condition, env, opts)
		if err != nil {
			return Deny, err
		}
		switch rule.Kind {
		case RuleRequire:
			if !ok {
				return Deny, nil
			}
		case RuleAllow:
			if ok {
				return Allow, nil
			}
		case RuleDeny:
			if ok {
				return Deny, nil
			}
		}
	}
	return Deny, nil
}

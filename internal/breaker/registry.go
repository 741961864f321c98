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

package breaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one Breaker per name, created lazily on first use. Mirrors
// a sync.Map-of-named-components shape, generalized to breaker state
// machines keyed by name.
type Registry struct {
	breakers sync.Map // string -> *Breaker
	cfg      Config
	log      *zap.Logger
}

// NewRegistry constructs a Registry whose breakers all share cfg.
func NewRegistry(cfg Config, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.EMAAlpha <= 0 {
		cfg.EMAAlpha = def.EMAAlpha
	}
	return &Registry{cfg: cfg, log: log}
}

// Get returns the named breaker, creating it on first access.
func (r *Registry) Get(name string) *Breaker {
	if actual, ok := r.breakers.Load(name); ok {
		return actual.(*Breaker)
	}
	actual, _ := r.breakers.LoadOrStore(name, newBreaker(name, r.cfg, r.log))
	return actual.(*Breaker)
}

// ForEach iterates every breaker currently registered, for periodic health
// adjustment passes.
func (r *Registry) ForEach(f func(name string, b *Breaker)) {
	r.breakers.Range(func(key, value interface{}) bool {
		f(key.(string), value.(*Breaker))
		return true
	})
}

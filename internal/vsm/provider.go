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

import "context"

// Provider analyses an episode on S4's behalf. Vendor-specific
// implementations (a concrete LLM API client, or otherwise) are out of
// scope here; Pipeline only depends on this interface so S4 stays pluggable.
type Provider interface {
	Analyze(ctx context.Context, ep Episode) (Analysis, error)
}

// Analysis is a Provider's verdict on an episode.
type Analysis struct {
	Summary    string
	Confidence float64
	Tags       []string
}

// NoopProvider is a Provider that does no analysis; it exists so S4 has a
// safe default when no real provider is configured, rather than a nil
// interface every caller must special-case.
type NoopProvider struct{}

// Analyze returns a zero-confidence Analysis without inspecting ep.
func (NoopProvider) Analyze(ctx context.Context, ep Episode) (Analysis, error) {
	return Analysis{Summary: "no provider configured"}, nil
}

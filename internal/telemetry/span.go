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

import "time"

// Span measures one instrumented operation. Callers wrap the code they want
// timed with StartSpan/Stop; unlike the coalescence KPIs, spans carry no
// sampling or config and are always recorded - Prometheus histograms are
// built to absorb that cardinality at one label per component.
type Span struct {
	component string
	start     time.Time
}

// StartSpan begins timing component. Call Stop when the operation
// completes, typically via defer.
func StartSpan(component string) *Span {
	return &Span{component: component, start: time.Now()}
}

// Stop records the elapsed duration since StartSpan into the component's
// histogram.
func (s *Span) Stop() {
	spanDuration.WithLabelValues(s.component).Observe(time.Since(s.start).Seconds())
}

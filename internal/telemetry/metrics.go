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

// Package telemetry is the control plane's telemetry plane: span timing,
// per-component operation counters, and a coalescence KPI (how much
// admitted traffic collapses into fewer downstream commits) exposed both to
// Prometheus and to an optional live console report. It generalizes the
// teacher's write-reduction-only churn module to every component in the
// system instead of a single accounting path.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Collectors are process-wide, registered once in init. Labels stay on a
// component/topic axis rather than per-entity, to keep cardinality bounded.
var (
	spanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cyb_span_duration_seconds",
		Help:    "Duration of instrumented component operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"component"})

	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cyb_operations_total",
		Help: "Total VSM operations observed, by system and message type.",
	}, []string{"system", "message_type"})

	admitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cyb_admit_total",
		Help: "Total admission attempts recorded for a coalescence topic.",
	}, []string{"topic"})

	grantTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cyb_grant_total",
		Help: "Total downstream commits/slot-grants recorded for a coalescence topic.",
	}, []string{"topic"})

	coalesceRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cyb_coalesce_ratio",
		Help: "admits/grants over the KPI window for a coalescence topic - how many admitted requests collapse into one downstream commit.",
	}, []string{"topic"})

	topicsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cyb_coalesce_topics_tracked",
		Help: "Number of coalescence topics currently tracked.",
	})
)

func init() {
	prometheus.MustRegister(spanDuration, operationsTotal, admitTotal, grantTotal, coalesceRatio, topicsTracked)
}

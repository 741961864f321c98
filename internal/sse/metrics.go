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

package sse

import "github.com/prometheus/client_golang/prometheus"

// Metric shapes follow other_examples/e8b9a2f9's SSE handler, generalized
// from unlabeled singletons to per-tenant vectors.
var (
	activeConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cyb_sse_active_connections",
		Help: "Number of active SSE connections.",
	}, []string{"tenant"})

	totalConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cyb_sse_connections_total",
		Help: "Total number of SSE connections opened.",
	}, []string{"tenant"})

	messagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cyb_sse_messages_delivered_total",
		Help: "Total number of events delivered over SSE.",
	}, []string{"tenant"})

	connectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cyb_sse_connection_duration_seconds",
		Help:    "Duration of SSE connections.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"tenant"})
)

func init() {
	prometheus.MustRegister(activeConnections, totalConnections, messagesDelivered, connectionDuration)
}

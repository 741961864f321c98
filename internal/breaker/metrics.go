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

import "github.com/prometheus/client_golang/prometheus"

var (
	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cyb_breaker_state",
		Help: "Current breaker state per name: 0=closed, 1=open, 2=half_open",
	}, []string{"name"})
	tripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cyb_breaker_trips_total",
		Help: "Total closed/half-open to open transitions per breaker name",
	}, []string{"name"})
	healthScoreGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cyb_breaker_health_score",
		Help: "Current health score per breaker name, in [0,1]",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(stateGauge, tripsTotal, healthScoreGauge)
}

func (b *Breaker) reportState() {
	stateGauge.WithLabelValues(b.name).Set(float64(b.state))
	healthScoreGauge.WithLabelValues(b.name).Set(b.healthScore)
}

// Copyright 2026 Envoyproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstream

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the cluster metric families, labeled by cluster name.
// One Metrics instance is shared by every cluster on the same registry;
// each cluster curries its own label value at construction.
type Metrics struct {
	membershipTotal   *prometheus.GaugeVec
	membershipHealthy *prometheus.GaugeVec
	membershipChanges *prometheus.CounterVec
	updateAttempts    *prometheus.CounterVec
	updateSuccesses   *prometheus.CounterVec
	updateFailures    *prometheus.CounterVec
	maxHostWeight     *prometheus.GaugeVec
}

// NewMetrics creates and registers the cluster metric families.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		membershipTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "membership_total",
			Help:      "Current number of hosts in the cluster.",
		}, []string{"cluster"}),
		membershipHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "membership_healthy",
			Help:      "Current number of healthy hosts in the cluster.",
		}, []string{"cluster"}),
		membershipChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "membership_changes_total",
			Help:      "Number of membership changes (publishes with hosts added or removed).",
		}, []string{"cluster"}),
		updateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "update_attempts_total",
			Help:      "Number of discovery update attempts.",
		}, []string{"cluster"}),
		updateSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "update_successes_total",
			Help:      "Number of discovery updates that completed.",
		}, []string{"cluster"}),
		updateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "update_failures_total",
			Help:      "Number of discovery updates that failed.",
		}, []string{"cluster"}),
		maxHostWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "envoy",
			Subsystem: "cluster",
			Name:      "max_host_weight",
			Help:      "Maximum host weight observed in the latest reconciliation pass.",
		}, []string{"cluster"}),
	}
	reg.MustRegister(
		m.membershipTotal,
		m.membershipHealthy,
		m.membershipChanges,
		m.updateAttempts,
		m.updateSuccesses,
		m.updateFailures,
		m.maxHostWeight,
	)
	return m
}

// clusterStats is the per-cluster slice of Metrics.
type clusterStats struct {
	membershipTotal   prometheus.Gauge
	membershipHealthy prometheus.Gauge
	membershipChanges prometheus.Counter
	updateAttempts    prometheus.Counter
	updateSuccesses   prometheus.Counter
	updateFailures    prometheus.Counter
	maxHostWeight     prometheus.Gauge
}

func (m *Metrics) forCluster(name string) *clusterStats {
	return &clusterStats{
		membershipTotal:   m.membershipTotal.WithLabelValues(name),
		membershipHealthy: m.membershipHealthy.WithLabelValues(name),
		membershipChanges: m.membershipChanges.WithLabelValues(name),
		updateAttempts:    m.updateAttempts.WithLabelValues(name),
		updateSuccesses:   m.updateSuccesses.WithLabelValues(name),
		updateFailures:    m.updateFailures.WithLabelValues(name),
		maxHostWeight:     m.maxHostWeight.WithLabelValues(name),
	}
}

// removeCluster drops a removed cluster's label values so the exposition
// does not report stale series forever.
func (m *Metrics) removeCluster(name string) {
	m.membershipTotal.DeleteLabelValues(name)
	m.membershipHealthy.DeleteLabelValues(name)
	m.membershipChanges.DeleteLabelValues(name)
	m.updateAttempts.DeleteLabelValues(name)
	m.updateSuccesses.DeleteLabelValues(name)
	m.updateFailures.DeleteLabelValues(name)
	m.maxHostWeight.DeleteLabelValues(name)
}

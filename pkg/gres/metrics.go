// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package gres

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SelectionMetrics is a prometheus.Collector exposing the outcome of
// feasibility filtering and selection: how many candidate nodes were
// judged feasible or rejected (and why), how often a per-job request
// only got satisfied on the by-job second pass, and how fragmented the
// most recently touched shared-GRES topology slots are left.
type SelectionMetrics struct {
	feasibleNodes       *prometheus.CounterVec
	rejectedNodes       *prometheus.CounterVec
	pass2Rescues        prometheus.Counter
	sharedFragmentation prometheus.Gauge
}

// NewSelectionMetrics builds a fresh, unregistered SelectionMetrics.
func NewSelectionMetrics() *SelectionMetrics {
	return &SelectionMetrics{
		feasibleNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gres_select",
			Name:      "feasible_nodes_total",
			Help:      "Candidate nodes RemoveUnusable judged feasible, by GRES plugin id.",
		}, []string{"plugin_id"}),
		rejectedNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gres_select",
			Name:      "rejected_nodes_total",
			Help:      "Candidate nodes RemoveUnusable rejected, by rejection reason.",
		}, []string{"reason"}),
		pass2Rescues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gres_select",
			Name:      "job_pass2_rescues_total",
			Help:      "Per-job GRES requests satisfied only after the by-job second pass.",
		}),
		sharedFragmentation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gres_select",
			Name:      "shared_fragmentation_ratio",
			Help:      "Fraction of the last touched node's shared-GRES topology slots left partially allocated.",
		}),
	}
}

// DefaultMetrics is the package-wide collector RemoveUnusable and
// SelectAndSet record into. Callers register it with their own
// prometheus.Registry; nothing in this package registers it globally.
var DefaultMetrics = NewSelectionMetrics()

// Describe implements prometheus.Collector.
func (m *SelectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.feasibleNodes.Describe(ch)
	m.rejectedNodes.Describe(ch)
	ch <- m.pass2Rescues.Desc()
	ch <- m.sharedFragmentation.Desc()
}

// Collect implements prometheus.Collector.
func (m *SelectionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.feasibleNodes.Collect(ch)
	m.rejectedNodes.Collect(ch)
	ch <- m.pass2Rescues
	ch <- m.sharedFragmentation
}

func (m *SelectionMetrics) recordFeasible(id PluginID) {
	m.feasibleNodes.WithLabelValues(strconv.Itoa(int(id))).Inc()
}

func (m *SelectionMetrics) recordRejected(kind ErrorKind) {
	m.rejectedNodes.WithLabelValues(kind.String()).Inc()
}

func (m *SelectionMetrics) recordPass2Rescue() {
	m.pass2Rescues.Inc()
}

func (m *SelectionMetrics) setSharedFragmentation(ratio float64) {
	m.sharedFragmentation.Set(ratio)
}

// sharedFragmentationRatio is the fraction of a shared-GRES node's
// topology slots left neither empty nor full: a slot with some but not
// all of its units allocated cannot host a future single-device
// request that needs the whole slot.
func sharedFragmentationRatio(ns *GresNodeState) float64 {
	if ns.TopoCnt == 0 {
		return 0
	}
	partial := 0
	for t := 0; t < ns.TopoCnt; t++ {
		avail := ns.TopoGresCntAvail[t]
		alloc := ns.TopoGresCntAlloc[t]
		if avail > 0 && alloc > 0 && alloc < avail {
			partial++
		}
	}
	return float64(partial) / float64(ns.TopoCnt)
}

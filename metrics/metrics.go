// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the node's prometheus collectors: a Metrics
// struct holding named counters/gauges, registered once at construction.
// Grounded on _examples/luxfi-consensus/metrics/metrics.go's
// Metrics/NewMetrics/Register shape, extended with the node (C9) series
// SPEC_FULL.md's ambient stack calls for.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the node registers.
type Metrics struct {
	Registry prometheus.Registerer

	ProposalsAccepted    prometheus.Counter
	ProposalsRejected    prometheus.Counter
	EquivocationsSlashed prometheus.Counter
	NoRevealSlashed      prometheus.Counter
	EpochsFinalized      prometheus.Counter

	CurrentEpoch     prometheus.Gauge
	CurrentSlot      prometheus.Gauge
	ActiveValidators prometheus.Gauge
}

// NewMetrics constructs and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registry: reg,
		ProposalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "proposals_accepted_total",
			Help:      "Number of sortition proposals accepted.",
		}),
		ProposalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "proposals_rejected_total",
			Help:      "Number of sortition proposals rejected.",
		}),
		EquivocationsSlashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "equivocations_slashed_total",
			Help:      "Number of equivocation slashing events applied.",
		}),
		NoRevealSlashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "no_reveal_slashed_total",
			Help:      "Number of RANDAO no-reveal slashing events applied.",
		}),
		EpochsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "epochs_finalized_total",
			Help:      "Number of epochs finalized.",
		}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "current_epoch",
			Help:      "The node's current epoch.",
		}),
		CurrentSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "current_slot",
			Help:      "The node's current slot within the epoch.",
		}),
		ActiveValidators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "active_validators",
			Help:      "Number of active validators in the current snapshot.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ProposalsAccepted, m.ProposalsRejected, m.EquivocationsSlashed,
		m.NoRevealSlashed, m.EpochsFinalized, m.CurrentEpoch, m.CurrentSlot,
		m.ActiveValidators,
	} {
		if reg != nil {
			_ = reg.Register(c)
		}
	}
	return m
}

// Register registers an additional prometheus collector.
func (m *Metrics) Register(collector prometheus.Collector) error {
	if m.Registry == nil {
		return nil
	}
	return m.Registry.Register(collector)
}

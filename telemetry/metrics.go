// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package telemetry exposes the node's prometheus counters and gauges
// behind a small typed struct, so the mesh, discovery, and round
// packages never touch prometheus directly.
package telemetry

import (
	"github.com/luxfi/votemesh/api/metrics"
)

// NodeMetrics holds every counter and gauge the node reports.
type NodeMetrics struct {
	peersActiveGauge gaugeSetter
	roundsStarted    counterAdder
	ballotsReceived  counterAdder
	keysReleased     counterAdder
	roundsFinished   counterAdder
	decryptFailures  counterAdder
}

// counterAdder and gaugeSetter are the minimal surface NodeMetrics
// needs from prometheus.Counter/Gauge, so tests can substitute a noop
// implementation without importing prometheus.
type counterAdder interface{ Inc() }
type gaugeSetter interface{ Set(float64) }

// NewNodeMetrics registers every node metric against registerer under
// namespace. Call once per process.
func NewNodeMetrics(namespace string, registerer metrics.Registerer) (*NodeMetrics, error) {
	peersActive, err := metrics.NewGauge(registerer, namespace, "peers_active", "Number of active mesh peer links")
	if err != nil {
		return nil, err
	}
	roundsStarted, err := metrics.NewCounter(registerer, namespace, "rounds_started", "Total voting rounds started")
	if err != nil {
		return nil, err
	}
	ballotsReceived, err := metrics.NewCounter(registerer, namespace, "ballots_received", "Total encrypted ballots accepted")
	if err != nil {
		return nil, err
	}
	keysReleased, err := metrics.NewCounter(registerer, namespace, "keys_released", "Total ballot keys released in CONSENSUS")
	if err != nil {
		return nil, err
	}
	roundsFinished, err := metrics.NewCounter(registerer, namespace, "rounds_finished", "Total voting rounds that reached FINISHED")
	if err != nil {
		return nil, err
	}
	decryptFailures, err := metrics.NewCounter(registerer, namespace, "decrypt_failures", "Total ballots dropped due to decryption failure")
	if err != nil {
		return nil, err
	}

	return &NodeMetrics{
		peersActiveGauge: peersActive,
		roundsStarted:    roundsStarted,
		ballotsReceived:  ballotsReceived,
		keysReleased:     keysReleased,
		roundsFinished:   roundsFinished,
		decryptFailures:  decryptFailures,
	}, nil
}

func (m *NodeMetrics) SetPeersActive(n int) {
	if m == nil {
		return
	}
	m.peersActiveGauge.Set(float64(n))
}

func (m *NodeMetrics) IncRoundsStarted() {
	if m == nil {
		return
	}
	m.roundsStarted.Inc()
}

func (m *NodeMetrics) IncBallotsReceived() {
	if m == nil {
		return
	}
	m.ballotsReceived.Inc()
}

func (m *NodeMetrics) IncKeysReleased(n int) {
	if m == nil {
		return
	}
	for i := 0; i < n; i++ {
		m.keysReleased.Inc()
	}
}

func (m *NodeMetrics) IncRoundsFinished() {
	if m == nil {
		return
	}
	m.roundsFinished.Inc()
}

func (m *NodeMetrics) IncDecryptFailures() {
	if m == nil {
		return
	}
	m.decryptFailures.Inc()
}

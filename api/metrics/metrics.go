// Copyright (C) 2020-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wraps prometheus's Registerer/Gatherer interfaces so
// callers (telemetry.NodeMetrics, in particular) depend on this
// package rather than importing prometheus directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registerer is an interface for registering prometheus metrics
type Registerer interface {
	prometheus.Registerer
}

// Registry is an interface for prometheus registry
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a new prometheus registry
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// NewCounter registers and returns a namespaced prometheus counter.
// telemetry.NodeMetrics uses this instead of constructing
// prometheus.Counter values directly.
func NewCounter(registerer prometheus.Registerer, namespace, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	if err := registerer.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// NewGauge registers and returns a namespaced prometheus gauge.
func NewGauge(registerer prometheus.Registerer, namespace, name, help string) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	if err := registerer.Register(g); err != nil {
		return nil, err
	}
	return g, nil
}
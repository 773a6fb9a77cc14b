// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health provides composable health metrics used to answer
// liveness and readiness probes.
package health

import (
	"context"
	"sync/atomic"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// MetricFunc is a func which implements the [Metric] interface.
type MetricFunc func(context.Context) bool

// Healthy implements the [Metric] interface.
func (f MetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

// Binary is a [Metric] that is either healthy or not.
// The zero value is healthy and it is safe for concurrent use.
type Binary struct {
	unhealthy atomic.Bool
}

// MarkHealthy sets the state to healthy.
func (m *Binary) MarkHealthy() {
	m.unhealthy.Store(false)
}

// MarkUnhealthy sets the state to unhealthy.
func (m *Binary) MarkUnhealthy() {
	m.unhealthy.Store(true)
}

// Toggle flips the current state.
func (m *Binary) Toggle() {
	for {
		old := m.unhealthy.Load()
		if m.unhealthy.CompareAndSwap(old, !old) {
			return
		}
	}
}

// Healthy implements the [Metric] interface.
func (m *Binary) Healthy(ctx context.Context) bool {
	return !m.unhealthy.Load()
}

// And is healthy only if every one of metrics is. No metrics is healthy.
func And(metrics ...Metric) Metric {
	return MetricFunc(func(ctx context.Context) bool {
		for _, metric := range metrics {
			if !metric.Healthy(ctx) {
				return false
			}
		}
		return true
	})
}

// Or is healthy if at least one of metrics is. No metrics is unhealthy.
func Or(metrics ...Metric) Metric {
	return MetricFunc(func(ctx context.Context) bool {
		for _, metric := range metrics {
			if metric.Healthy(ctx) {
				return true
			}
		}
		return false
	})
}

// Not negates metric.
func Not(metric Metric) Metric {
	return MetricFunc(func(ctx context.Context) bool {
		return !metric.Healthy(ctx)
	})
}

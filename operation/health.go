// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package operation

import (
	"context"
	"net/http"

	"github.com/z5labs/loam/http1"
	"github.com/z5labs/loam/pkg/health"
)

const (
	LivenessPath  = "/health/liveness"
	ReadinessPath = "/health/readiness"
)

// Health registers GET endpoints reporting liveness and readiness. Each
// responds with 200 while its metric is healthy and 503 otherwise.
// Health checks are answered on the connection's loop, so the metrics
// must not block.
func Health(liveness, readiness health.Metric) RouterOption {
	return func(r *Router) {
		r.register(http.MethodGet, LivenessPath, healthHandler(liveness))
		r.register(http.MethodGet, ReadinessPath, healthHandler(readiness))
	}
}

func healthHandler(m health.Metric) http1.Handler {
	return http1.HandlerFunc(func(ctx context.Context, head *http1.RequestHead, _ []byte, w *http1.ResponseWriter) {
		statusCode := http.StatusOK
		if !m.Healthy(ctx) {
			statusCode = http.StatusServiceUnavailable
		}
		w.CompleteSilently(ctx, statusCode, http1.ResponseComponents{})
	})
}

// Readiness returns a metric which is healthy until s starts shutting
// down, so load balancers stop routing to it while it drains.
func Readiness(s *http1.Server) health.Metric {
	var ready health.Binary
	s.OnShutdownStart(ready.MarkUnhealthy)
	return &ready
}

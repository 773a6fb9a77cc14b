// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle provides reusable [loam.Lifecycle] hooks.
package lifecycle

import (
	"context"

	"github.com/z5labs/loam"
	"github.com/z5labs/loam/pkg/otelconfig"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ManageOTel installs the tracer provider returned by f before the
// runtimes run and shuts it down, flushing any buffered spans, after
// they have returned.
func ManageOTel(f func(context.Context) (otelconfig.Initializer, error)) func(*loam.Lifecycle) {
	return func(life *loam.Lifecycle) {
		life.PreRun(func(ctx context.Context) error {
			initer, err := f(ctx)
			if err != nil {
				return err
			}
			tp, err := initer.Init(ctx)
			if err != nil {
				return err
			}
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			return nil
		})

		life.PostRun(func(ctx context.Context) error {
			stp, ok := otel.GetTracerProvider().(interface {
				Shutdown(context.Context) error
			})
			if !ok {
				return nil
			}
			return stp.Shutdown(ctx)
		})
	}
}

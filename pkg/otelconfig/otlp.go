// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelconfig

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLPConfig configures the OTLP gRPC exporter.
type OTLPConfig struct {
	Common

	// Target is passed to grpc.DialContext.
	Target      string
	DialTimeout time.Duration
}

// OTLPOption configures the OTLP [Initializer].
type OTLPOption interface {
	ApplyOTLP(*OTLPConfig)
}

type otlpOptionFunc func(*OTLPConfig)

func (f otlpOptionFunc) ApplyOTLP(cfg *OTLPConfig) {
	f(cfg)
}

// OTLPTarget sets the collector address.
func OTLPTarget(target string) OTLPOption {
	return otlpOptionFunc(func(oc *OTLPConfig) {
		oc.Target = target
	})
}

// OTLPDialTimeout bounds how long Init waits for the collector connection.
func OTLPDialTimeout(d time.Duration) OTLPOption {
	return otlpOptionFunc(func(oc *OTLPConfig) {
		oc.DialTimeout = d
	})
}

// OTLP returns an [Initializer] exporting spans to an OTLP collector over gRPC.
func OTLP(opts ...OTLPOption) Initializer {
	cfg := OTLPConfig{
		DialTimeout: time.Second,
	}
	for _, opt := range opts {
		opt.ApplyOTLP(&cfg)
	}
	return cfg
}

// Init implements the [Initializer] interface.
func (cfg OTLPConfig) Init(ctx context.Context) (trace.TracerProvider, error) {
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		cfg.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.sampler()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return tp, nil
}

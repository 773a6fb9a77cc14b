// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelconfig builds OpenTelemetry trace providers for the
// supported export targets.
package otelconfig

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Initializer creates a [trace.TracerProvider].
type Initializer interface {
	Init(context.Context) (trace.TracerProvider, error)
}

// Exporter names where spans are sent.
type Exporter string

const (
	NoopExporter        Exporter = "noop"
	StdoutExporter      Exporter = "stdout"
	OTLPExporter        Exporter = "otlp"
	GoogleCloudExporter Exporter = "gcp"
)

// Config selects and configures an [Initializer] from config values.
type Config struct {
	Exporter    Exporter `config:"exporter"`
	ServiceName string   `config:"serviceName"`

	// Target is the gRPC dial target of an OTLP collector.
	Target string `config:"target"`

	ProjectId string `config:"projectId"`

	SampleRatio float64 `config:"sampleRatio"`
}

// UnknownExporterError is returned by [Config.Initializer].
type UnknownExporterError struct {
	Exporter Exporter
}

// Error implements the [builtin.error] interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown otel exporter: %s", e.Exporter)
}

// Initializer returns the [Initializer] for cfg.Exporter.
// An empty exporter is the same as [NoopExporter].
func (cfg Config) Initializer() (Initializer, error) {
	name := ServiceName(cfg.ServiceName)
	ratio := SampleRatio(cfg.SampleRatio)
	switch cfg.Exporter {
	case "", NoopExporter:
		return Noop, nil
	case StdoutExporter:
		return Local(name, ratio), nil
	case OTLPExporter:
		return OTLP(name, ratio, OTLPTarget(cfg.Target)), nil
	case GoogleCloudExporter:
		return GoogleCloud(name, ratio, GoogleCloudProjectId(cfg.ProjectId)), nil
	default:
		return nil, UnknownExporterError{Exporter: cfg.Exporter}
	}
}

// Common holds values shared by every exporter.
type Common struct {
	ServiceName string
	Resource    *resource.Resource

	// SampleRatio is the fraction of new traces which are sampled.
	// Values outside (0, 1) sample every trace.
	SampleRatio float64
}

// sampler respects the sampling decision of a remote parent, e.g. the
// traceparent header of an inbound request.
func (c Common) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c Common) resource(ctx context.Context, opts ...resource.Option) (*resource.Resource, error) {
	if c.Resource != nil {
		return c.Resource, nil
	}
	opts = append(
		opts,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(c.ServiceName)),
	)
	return resource.New(ctx, opts...)
}

// CommonOption applies to every [Initializer] in this package.
type CommonOption interface {
	GoogleCloudOption
	LocalOption
	OTLPOption
}

type commonOptionFunc func(*Common)

func (f commonOptionFunc) ApplyGCP(cfg *GoogleCloudConfig) {
	f(&cfg.Common)
}

func (f commonOptionFunc) ApplyOTLP(cfg *OTLPConfig) {
	f(&cfg.Common)
}

func (f commonOptionFunc) ApplyLocal(cfg *LocalConfig) {
	f(&cfg.Common)
}

// ServiceName sets the service.name resource attribute.
func ServiceName(name string) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.ServiceName = name
	})
}

// SampleRatio sets the fraction of new traces which are sampled.
func SampleRatio(ratio float64) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.SampleRatio = ratio
	})
}

// WithResource replaces the detected resource.
func WithResource(r *resource.Resource) CommonOption {
	return commonOptionFunc(func(c *Common) {
		c.Resource = r
	})
}

// Noop leaves the global tracer provider as is.
var Noop Initializer = noopInitializer{}

type noopInitializer struct{}

func (noopInitializer) Init(_ context.Context) (trace.TracerProvider, error) {
	return otel.GetTracerProvider(), nil
}

// LocalConfig configures the stdout exporter.
type LocalConfig struct {
	Common

	Out io.Writer
}

// LocalOption configures the local [Initializer].
type LocalOption interface {
	ApplyLocal(*LocalConfig)
}

type localOptionFunc func(*LocalConfig)

func (f localOptionFunc) ApplyLocal(cfg *LocalConfig) {
	f(cfg)
}

// LocalWriter sets where spans are written. Defaults to [os.Stdout].
func LocalWriter(w io.Writer) LocalOption {
	return localOptionFunc(func(lc *LocalConfig) {
		lc.Out = w
	})
}

// Local returns an [Initializer] which pretty prints spans.
func Local(opts ...LocalOption) Initializer {
	cfg := LocalConfig{
		Out: os.Stdout,
	}
	for _, opt := range opts {
		opt.ApplyLocal(&cfg)
	}
	return cfg
}

// Init implements the [Initializer] interface.
func (cfg LocalConfig) Init(ctx context.Context) (trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(cfg.Out),
	)
	if err != nil {
		return nil, err
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.sampler()),
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelconfig

import (
	"context"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

// GoogleCloudConfig configures the Cloud Trace exporter.
type GoogleCloudConfig struct {
	Common

	ProjectId string `config:"projectId"`
}

// GoogleCloudOption configures the Google Cloud [Initializer].
type GoogleCloudOption interface {
	ApplyGCP(*GoogleCloudConfig)
}

type gcpOptionFunc func(*GoogleCloudConfig)

func (f gcpOptionFunc) ApplyGCP(cfg *GoogleCloudConfig) {
	f(cfg)
}

// GoogleCloudProjectId sets the project spans are written to.
func GoogleCloudProjectId(id string) GoogleCloudOption {
	return gcpOptionFunc(func(gcc *GoogleCloudConfig) {
		gcc.ProjectId = id
	})
}

// GoogleCloud returns an [Initializer] exporting spans directly to Cloud Trace.
func GoogleCloud(opts ...GoogleCloudOption) Initializer {
	cfg := GoogleCloudConfig{}
	for _, opt := range opts {
		opt.ApplyGCP(&cfg)
	}
	return cfg
}

// Init implements the [Initializer] interface.
func (cfg GoogleCloudConfig) Init(ctx context.Context) (trace.TracerProvider, error) {
	exporter, err := texporter.New(
		texporter.WithProjectID(cfg.ProjectId),
		texporter.WithTraceClientOptions([]option.ClientOption{option.WithTelemetryDisabled()}),
	)
	if err != nil {
		return nil, err
	}

	res, err := cfg.resource(ctx, resource.WithDetectors(gcp.NewDetector()))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.sampler()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

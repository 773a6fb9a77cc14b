// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app wires the echo service together.
package app

import (
	"context"
	"os"

	"github.com/z5labs/loam"
	"github.com/z5labs/loam/example/echo/endpoint"
	"github.com/z5labs/loam/http1"
	"github.com/z5labs/loam/operation"
	"github.com/z5labs/loam/pkg/health"
	"github.com/z5labs/loam/pkg/logconfig"
	"github.com/z5labs/loam/pkg/otelconfig"
)

// Config is the echo service's config file layout.
type Config struct {
	Logging logconfig.Config  `config:"logging"`
	OTel    otelconfig.Config `config:"otel"`
	HTTP    http1.Config      `config:"http"`
}

// OTel reads the otel section of the app config.
func OTel(ctx context.Context) (otelconfig.Initializer, error) {
	var cfg Config
	err := loam.ConfigFromContext(ctx).Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	return cfg.OTel.Initializer()
}

// Init builds the http1 runtime serving the echo endpoint.
func Init(ctx context.Context) (loam.Runtime, error) {
	var cfg Config
	err := loam.ConfigFromContext(ctx).Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	logHandler, err := cfg.Logging.Handler(os.Stderr)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.HTTP.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, http1.LogHandler(logHandler))

	var live, ready health.Binary
	router := operation.NewRouter(
		operation.WithMiddleware(operation.LogRequests(logHandler)),
		operation.Health(&live, &ready),
		endpoint.Echo(logHandler),
	)

	rt, err := http1.NewRuntime(router, opts...)
	if err != nil {
		return nil, err
	}
	rt.Server().OnShutdownStart(ready.MarkUnhealthy)
	return rt, nil
}

// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/z5labs/loam/pkg/eventloop"
	"github.com/z5labs/loam/pkg/noop"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Invocation controls how shutdown handlers registered after the server
// has shut down are run.
type Invocation int

const (
	// Synchronous runs the handler on the registering goroutine.
	Synchronous Invocation = iota

	// Asynchronous runs the handler on a new goroutine.
	Asynchronous
)

type serverOptions struct {
	port         uint
	backlog      int
	reuseAddress bool
	reusePort    bool

	eventLoops int
	group      *eventloop.Group

	signals    []os.Signal
	invocation Invocation

	chunkSize       int
	maxBodySize     int64
	readBufferSize  int
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	logHandler     slog.Handler
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		port:            8080,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
		invocation:      Synchronous,
		chunkSize:       64 * 1024,
		maxBodySize:     10 * 1024 * 1024,
		readBufferSize:  4096,
		shutdownTimeout: 30 * time.Second,
		logHandler:      noop.LogHandler{},
		tracerProvider:  otel.GetTracerProvider(),
		meterProvider:   otel.GetMeterProvider(),
		propagator:      otel.GetTextMapPropagator(),
	}
}

// ServerOption configures a [Server].
type ServerOption func(*serverOptions)

// ListenOnPort sets the TCP port to listen on. Port 0 picks an ephemeral
// port, see [Server.Addr].
//
// Default port is 8080.
func ListenOnPort(port uint) ServerOption {
	return func(so *serverOptions) {
		so.port = port
	}
}

// Backlog sets the listen backlog. Zero uses the system default.
func Backlog(n int) ServerOption {
	return func(so *serverOptions) {
		so.backlog = n
	}
}

// ReuseAddress sets SO_REUSEADDR on the listening socket.
func ReuseAddress(enabled bool) ServerOption {
	return func(so *serverOptions) {
		so.reuseAddress = enabled
	}
}

// ReusePort sets SO_REUSEPORT on the listening socket.
func ReusePort(enabled bool) ServerOption {
	return func(so *serverOptions) {
		so.reusePort = enabled
	}
}

// EventLoops sets the number of loops the server creates.
//
// Default is one per CPU.
func EventLoops(n int) ServerOption {
	return func(so *serverOptions) {
		so.eventLoops = n
	}
}

// SharedEventLoopGroup makes the server use g instead of creating its own
// loops. The server never shuts a shared group down.
func SharedEventLoopGroup(g *eventloop.Group) ServerOption {
	return func(so *serverOptions) {
		so.group = g
	}
}

// ShutdownSignals sets the signals which trigger [Server.Shutdown].
// No signals disables signal handling.
//
// Default is [os.Interrupt] and SIGTERM.
func ShutdownSignals(sigs ...os.Signal) ServerOption {
	return func(so *serverOptions) {
		so.signals = sigs
	}
}

// ShutdownHandlerInvocation sets how handlers registered after shutdown
// are run.
func ShutdownHandlerInvocation(i Invocation) ServerOption {
	return func(so *serverOptions) {
		so.invocation = i
	}
}

// ChunkSize sets the max number of body bytes written at once. Zero or
// less writes every body in one piece.
//
// Default is 64KiB.
func ChunkSize(n int) ServerOption {
	return func(so *serverOptions) {
		so.chunkSize = n
	}
}

// MaxBodySize sets the max request body size. Larger requests are
// rejected with 413. Zero or less disables the limit.
//
// Default is 10MiB.
func MaxBodySize(n int64) ServerOption {
	return func(so *serverOptions) {
		so.maxBodySize = n
	}
}

// ReadBufferSize sets the size of the per connection read buffer, which
// also bounds the size of each received body chunk.
func ReadBufferSize(n int) ServerOption {
	return func(so *serverOptions) {
		if n > 0 {
			so.readBufferSize = n
		}
	}
}

// WriteTimeout bounds each socket write of a response. A peer which
// does not read for longer gets its connection closed. Zero or less
// disables the deadline.
//
// Default is 0.
func WriteTimeout(d time.Duration) ServerOption {
	return func(so *serverOptions) {
		so.writeTimeout = d
	}
}

// ShutdownTimeout bounds how long a [Runtime] waits for connections to
// drain once its context is cancelled.
func ShutdownTimeout(d time.Duration) ServerOption {
	return func(so *serverOptions) {
		so.shutdownTimeout = d
	}
}

// LogHandler sets the handler for all server and connection logs.
func LogHandler(h slog.Handler) ServerOption {
	return func(so *serverOptions) {
		so.logHandler = h
	}
}

// TracerProvider sets where request spans are created.
func TracerProvider(tp trace.TracerProvider) ServerOption {
	return func(so *serverOptions) {
		so.tracerProvider = tp
	}
}

// MeterProvider sets where connection and request metrics are recorded.
func MeterProvider(mp metric.MeterProvider) ServerOption {
	return func(so *serverOptions) {
		so.meterProvider = mp
	}
}

// Propagator sets how trace context is extracted from request headers.
func Propagator(p propagation.TextMapPropagator) ServerOption {
	return func(so *serverOptions) {
		so.propagator = p
	}
}

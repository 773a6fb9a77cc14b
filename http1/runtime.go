// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"errors"

	"github.com/z5labs/loam/pkg/slogfield"
)

// Runtime runs a [Server] until its context is cancelled or the server
// shuts down on its own, e.g. after receiving a signal.
type Runtime struct {
	srv *Server
}

// NewRuntime returns a [Runtime] for a new [Server].
func NewRuntime(h Handler, opts ...ServerOption) (*Runtime, error) {
	srv, err := NewServer(h, opts...)
	if err != nil {
		return nil, err
	}
	return &Runtime{srv: srv}, nil
}

// Server returns the underlying server, e.g. to register shutdown handlers.
func (rt *Runtime) Server() *Server {
	return rt.srv
}

// Run starts the server and blocks until it has shut down. Once ctx is
// cancelled connections are given [ShutdownTimeout] to drain.
func (rt *Runtime) Run(ctx context.Context) error {
	err := rt.srv.Start()
	if err != nil {
		return err
	}

	select {
	case <-rt.srv.Done():
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), rt.srv.opts.shutdownTimeout)
	defer cancel()

	err = rt.srv.ShutdownAndWait(sctx)
	if errors.Is(err, context.DeadlineExceeded) {
		rt.srv.log.Error(
			"timed out waiting for connections to drain",
			slogfield.Duration("shutdown_timeout", rt.srv.opts.shutdownTimeout),
		)
	}
	return err
}

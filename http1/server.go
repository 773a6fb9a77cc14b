// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/z5labs/loam/pkg/eventloop"
	"github.com/z5labs/loam/pkg/slogfield"
)

// ServerState is the lifecycle position of a [Server].
type ServerState int

const (
	ServerInitialized ServerState = iota
	ServerRunning
	ServerShuttingDown
	ServerShutDown
)

// String implements the [fmt.Stringer] interface.
func (s ServerState) String() string {
	switch s {
	case ServerInitialized:
		return "initialized"
	case ServerRunning:
		return "running"
	case ServerShuttingDown:
		return "shuttingDown"
	case ServerShutDown:
		return "shutDown"
	default:
		return "unknown"
	}
}

// Server accepts HTTP/1 connections and serves them with a [Handler].
type Server struct {
	opts    serverOptions
	handler Handler
	log     *slog.Logger
	tel     *telemetry

	// mu guards state and the handler lists
	mu               sync.Mutex
	state            ServerState
	shutdownHandlers []func()
	startHooks       []func()
	ln               net.Listener
	group            *eventloop.Group

	conns      *connTracker
	acceptDone chan struct{}
	done       chan struct{}
	sigs       chan os.Signal
}

// NewServer returns an initialized [Server]. Nothing is bound until
// [Server.Start] is called.
func NewServer(h Handler, opts ...ServerOption) (*Server, error) {
	so := defaultServerOptions()
	for _, opt := range opts {
		opt(&so)
	}

	tel, err := newTelemetry(so.tracerProvider, so.meterProvider, so.propagator)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:       so,
		handler:    h,
		log:        slog.New(so.logHandler),
		tel:        tel,
		state:      ServerInitialized,
		conns:      newConnTracker(),
		acceptDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the address the server is listening on, or nil if it
// has not been started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Done is closed once the server has shut down and every shutdown
// handler queued before then has run.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start binds the listener and starts accepting connections. It does
// nothing unless the server is still initialized.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ServerInitialized {
		return nil
	}

	addr := fmt.Sprintf(":%d", s.opts.port)
	ln, err := listen(context.Background(), addr, listenConfig{
		backlog:      s.opts.backlog,
		reuseAddress: s.opts.reuseAddress,
		reusePort:    s.opts.reusePort,
	})
	if err != nil {
		s.log.Error("failed to listen for connections", slogfield.String("addr", addr), slogfield.Error(err))
		return ListenError{Addr: addr, Cause: err}
	}

	s.ln = ln
	s.group = s.opts.group
	if s.group == nil {
		s.group = eventloop.NewGroup(s.opts.eventLoops)
	}
	s.state = ServerRunning

	go s.accept(ln, s.group)
	s.handleSignals()

	s.log.Info(
		"started server",
		slogfield.String("addr", ln.Addr().String()),
		slogfield.Int("event_loops", s.group.Len()),
	)
	return nil
}

// Shutdown begins a graceful shutdown and returns without waiting for it.
// New connections are refused while open ones finish their in-flight
// request. Once every connection is closed the owned loops are released,
// the state becomes [ServerShutDown] and queued shutdown handlers run.
//
// [ErrNotStarted] is returned if the server was never started. Calling
// Shutdown again while shutting down, or after, does nothing.
func (s *Server) Shutdown() error {
	hooks, started, err := s.transitionOnShutdownStart()
	if err != nil || !started {
		return err
	}

	go s.quiesce(hooks)
	return nil
}

// ShutdownAndWait calls [Server.Shutdown] and waits for it to complete,
// or for ctx to be done.
func (s *Server) ShutdownAndWait(ctx context.Context) error {
	err := s.Shutdown()
	if err != nil {
		return err
	}
	return s.WaitUntilShutdownContext(ctx)
}

// WaitUntilShutdown blocks until the server has shut down.
func (s *Server) WaitUntilShutdown() {
	<-s.done
}

// WaitUntilShutdownContext blocks until the server has shut down or ctx is done.
func (s *Server) WaitUntilShutdownContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// OnShutdown registers f to run once the server has shut down. Handlers
// run once each, in registration order. If the server has already shut
// down f runs right away, according to [ShutdownHandlerInvocation].
func (s *Server) OnShutdown(f func()) {
	if s.addShutdownHandler(f) {
		return
	}
	if s.opts.invocation == Asynchronous {
		go f()
		return
	}
	f()
}

// WaitUntilShutdownAndThen is the same as [Server.OnShutdown].
func (s *Server) WaitUntilShutdownAndThen(f func()) {
	s.OnShutdown(f)
}

// OnShutdownStart registers f to run as soon as a shutdown begins, before
// the listener is closed. If a shutdown has already begun f runs right away.
func (s *Server) OnShutdownStart(f func()) {
	s.mu.Lock()
	if s.state == ServerInitialized || s.state == ServerRunning {
		s.startHooks = append(s.startHooks, f)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	f()
}

// transitionOnShutdownStart reports whether this call moved the server to
// shutting down, along with the shutdown start hooks to run.
func (s *Server) transitionOnShutdownStart() ([]func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ServerInitialized:
		return nil, false, ErrNotStarted
	case ServerShuttingDown, ServerShutDown:
		return nil, false, nil
	}
	s.state = ServerShuttingDown

	hooks := s.startHooks
	s.startHooks = nil
	return hooks, true, nil
}

// transitionOnShutdownComplete returns the queued shutdown handlers, which
// the caller must run.
func (s *Server) transitionOnShutdownComplete() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = ServerShutDown
	handlers := s.shutdownHandlers
	s.shutdownHandlers = nil
	return handlers
}

// addShutdownHandler reports whether f was queued. It is not queued if
// the server has already shut down.
func (s *Server) addShutdownHandler(f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ServerShutDown {
		return false
	}
	s.shutdownHandlers = append(s.shutdownHandlers, f)
	return true
}

func (s *Server) accept(ln net.Listener, group *eventloop.Group) {
	defer close(s.acceptDone)

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			backoff = nextBackoff(backoff)
			s.log.Error(
				"failed to accept connection",
				slogfield.Error(err),
				slogfield.Duration("retry_in", backoff),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.serve(nc, group.Next())
	}
}

func nextBackoff(d time.Duration) time.Duration {
	const maxBackoff = time.Second
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, maxBackoff)
}

func (s *Server) serve(nc net.Conn, loop *eventloop.Loop) {
	c := newConn(nc, loop, connOptions{
		handler:        s.handler,
		log:            s.log,
		tel:            s.tel,
		chunkSize:      s.opts.chunkSize,
		maxBodySize:    s.opts.maxBodySize,
		readBufferSize: s.opts.readBufferSize,
		writeTimeout:   s.opts.writeTimeout,
		onClose: func(c *conn) {
			s.tel.connections.Add(context.Background(), -1)
			s.conns.remove(c)
		},
	})
	if !s.conns.add(c) {
		s.log.Debug("refused connection while shutting down", slogfield.ConnID(c.id))
		nc.Close()
		return
	}
	s.tel.connections.Add(context.Background(), 1)
	c.serve()
}

func (s *Server) handleSignals() {
	if len(s.opts.signals) == 0 {
		return
	}

	s.sigs = make(chan os.Signal, 1)
	signal.Notify(s.sigs, s.opts.signals...)

	go func() {
		// signals stay captured until shutdown completes so a repeated
		// signal can not kill the process mid drain
		defer signal.Stop(s.sigs)

		select {
		case sig := <-s.sigs:
			s.log.Info("received shutdown signal", slogfield.String("signal", sig.String()))
			err := s.Shutdown()
			if err != nil {
				s.log.Error("failed to shutdown server", slogfield.Error(err))
			}
			<-s.done
		case <-s.done:
		}
	}()
}

func (s *Server) quiesce(hooks []func()) {
	s.log.Info("shutting down server")
	for _, f := range hooks {
		f()
	}

	s.mu.Lock()
	ln := s.ln
	group := s.group
	s.mu.Unlock()

	err := ln.Close()
	if err != nil {
		s.log.Error("failed to close listener", slogfield.Error(err))
	}
	<-s.acceptDone

	conns := s.conns.quiesce()
	s.log.Info("waiting for connections to drain", slogfield.Int("connections", len(conns)))
	for _, c := range conns {
		err := c.quiesce()
		if err != nil {
			s.log.Error("failed to quiesce connection", slogfield.ConnID(c.id), slogfield.Error(err))
			go c.abandon()
		}
	}
	<-s.conns.done()

	if s.opts.group == nil {
		err := group.Shutdown(context.Background())
		if err != nil {
			s.log.Error("failed to shutdown event loops", slogfield.Error(err))
		}
	}

	for _, f := range s.transitionOnShutdownComplete() {
		f()
	}
	s.log.Info("server shut down")
	close(s.done)
}

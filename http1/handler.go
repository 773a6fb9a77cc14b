// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/z5labs/loam/pkg/eventloop"
	"github.com/z5labs/loam/pkg/slogfield"
)

// Handler responds to complete requests. body is nil if the request
// carried no body.
//
// Handle is called on the connection's loop and must not block it. A
// Handler which produces its response on another goroutine must pass
// [eventloop.Detach] of ctx along instead of ctx itself. There is no
// timeout: the connection stays open until w is completed.
type Handler interface {
	Handle(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter)
}

// HandlerFunc is a func which implements the [Handler] interface.
type HandlerFunc func(context.Context, *RequestHead, []byte, *ResponseWriter)

// Handle implements the [Handler] interface.
func (f HandlerFunc) Handle(ctx context.Context, req *RequestHead, body []byte, w *ResponseWriter) {
	f(ctx, req, body, w)
}

// ConnectionHandler processes the protocol events of one connection.
// Every method must be called on the connection's loop.
type ConnectionHandler struct {
	loop    *eventloop.Loop
	out     Outbound
	handler Handler
	log     *slog.Logger
	tel     *telemetry

	chunkSize   int
	maxBodySize int64

	state     stateMachine
	keepAlive *KeepAliveStatus
	pending   pendingRequest
	closed    bool

	// onIdle is called whenever a response completed and the connection
	// can accept another request.
	onIdle func()

	// onClose is called once, after the outbound has been closed.
	onClose func()
}

type connectionConfig struct {
	loop        *eventloop.Loop
	out         Outbound
	handler     Handler
	log         *slog.Logger
	tel         *telemetry
	chunkSize   int
	maxBodySize int64
	onIdle      func()
	onClose     func()
}

func newConnectionHandler(cfg connectionConfig) *ConnectionHandler {
	return &ConnectionHandler{
		loop:        cfg.loop,
		out:         cfg.out,
		handler:     cfg.handler,
		log:         cfg.log,
		tel:         cfg.tel,
		chunkSize:   cfg.chunkSize,
		maxBodySize: cfg.maxBodySize,
		keepAlive:   newKeepAliveStatus(),
		onIdle:      cfg.onIdle,
		onClose:     cfg.onClose,
	}
}

// State returns the current position in the request/response cycle.
func (h *ConnectionHandler) State() ConnectionState {
	return h.state.current
}

// KeepAlive returns the status shared with this connection's writers.
func (h *ConnectionHandler) KeepAlive() *KeepAliveStatus {
	return h.keepAlive
}

// Closed reports whether the connection has been closed.
func (h *ConnectionHandler) Closed() bool {
	return h.closed
}

// HeadReceived starts a new request.
func (h *ConnectionHandler) HeadReceived(ctx context.Context, head *RequestHead) {
	if h.closed {
		return
	}
	h.pending.reset()
	h.pending.head = head
	h.pending.headReceived = true
	h.keepAlive.set(head.KeepAlive)
	h.state.requestReceived()
}

// BodyReceived appends chunk to the body of the current request.
func (h *ConnectionHandler) BodyReceived(ctx context.Context, chunk []byte) {
	if h.closed {
		return
	}
	h.pending.append(chunk, h.maxBodySize)
}

// EndReceived completes the current request and hands it to the [Handler].
func (h *ConnectionHandler) EndReceived(ctx context.Context) {
	if h.closed {
		return
	}
	if !h.pending.headReceived {
		h.log.WarnContext(ctx, "received end of request without a request head")
		h.reject(ctx, http.StatusBadRequest, "missing request head")
		return
	}

	h.state.requestComplete()

	head := h.pending.head
	body := h.pending.body()
	oversized := h.pending.oversized
	h.pending.reset()

	if oversized {
		h.log.WarnContext(
			ctx,
			"request body exceeded max size",
			slogfield.String("method", head.Method),
			slogfield.String("target", head.Target),
			slogfield.Int64("max_body_size", h.maxBodySize),
		)
		h.keepAlive.disable()
		w := h.newResponseWriter(ctx, head)
		w.CompleteSilently(ctx, http.StatusRequestEntityTooLarge, errorComponents("request body too large"))
		return
	}

	w := h.newResponseWriter(ctx, head)
	h.handler.Handle(w.ctx, head, body, w)
}

// HalfClosed handles the peer closing its side of the connection. The
// connection is closed right away unless a response is being produced,
// in which case it is closed once that response is written.
func (h *ConnectionHandler) HalfClosed(ctx context.Context) {
	if h.closed {
		return
	}
	switch h.state.current {
	case StateIdle, StateAwaitingBody:
		h.log.DebugContext(ctx, "peer closed connection", slogfield.String("state", h.state.current.String()))
		h.close(ctx)
	case StateSendingResponse:
		h.keepAlive.disable()
	}
}

// Malformed rejects a request the transport could not parse. The
// connection is closed after the rejection is written.
func (h *ConnectionHandler) Malformed(ctx context.Context, err error) {
	if h.closed {
		return
	}
	h.log.WarnContext(ctx, "received malformed request", slogfield.Error(err))
	h.keepAlive.disable()
	h.reject(ctx, http.StatusBadRequest, err.Error())
}

// Aborted closes the connection after a transport failure.
func (h *ConnectionHandler) Aborted(ctx context.Context, err error) {
	if h.closed {
		return
	}
	h.log.DebugContext(ctx, "connection aborted", slogfield.Error(err))
	h.close(ctx)
}

// Quiesce stops the connection from being kept alive. An idle connection
// is closed right away.
func (h *ConnectionHandler) Quiesce(ctx context.Context) {
	if h.closed {
		return
	}
	if h.state.current == StateIdle {
		h.close(ctx)
		return
	}
	h.keepAlive.disable()
}

// reject occupies a full request cycle with an error response instead of
// calling the Handler.
func (h *ConnectionHandler) reject(ctx context.Context, statusCode int, msg string) {
	if h.state.current == StateIdle {
		h.state.requestReceived()
	}
	h.state.requestComplete()

	head := h.pending.head
	h.pending.reset()

	w := h.newResponseWriter(ctx, head)
	w.Complete(ctx, statusCode, errorComponents(msg))
}

// responseComplete is called by a ResponseWriter once a kept alive
// response has been written.
func (h *ConnectionHandler) responseComplete() {
	h.state.responseComplete()
	if h.onIdle != nil {
		h.onIdle()
	}
}

func (h *ConnectionHandler) close(ctx context.Context) {
	if h.closed {
		return
	}
	h.closed = true

	// released first so the transport sees the socket close as expected
	if h.onClose != nil {
		h.onClose()
	}
	err := h.out.Close()
	if err != nil {
		h.log.DebugContext(ctx, "failed to close connection", slogfield.Error(err))
	}
}

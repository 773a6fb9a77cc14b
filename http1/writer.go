// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/z5labs/loam/pkg/eventloop"
	"github.com/z5labs/loam/pkg/slogfield"

	jsoniter "github.com/json-iterator/go"
)

// ResponseWriter completes exactly one response. It is safe to complete
// from any goroutine: the write itself always happens on the loop of
// the connection the request was received on.
type ResponseWriter struct {
	h    *ConnectionHandler
	req  *RequestHead
	ctx  context.Context
	span *requestSpan

	completed atomic.Bool
}

func (h *ConnectionHandler) newResponseWriter(ctx context.Context, req *RequestHead) *ResponseWriter {
	ctx, span := h.tel.startRequest(ctx, req)
	return &ResponseWriter{
		h:    h,
		req:  req,
		ctx:  ctx,
		span: span,
	}
}

// Complete writes the response and logs it.
//
// If ctx belongs to the task currently running on the connection's loop
// the response is written before Complete returns. Otherwise the write is
// scheduled on the loop and Complete returns immediately. Only the first
// call has any effect. A context handed to another goroutine while the
// handler is still running must be passed through [eventloop.Detach] first.
func (w *ResponseWriter) Complete(ctx context.Context, statusCode int, comps ResponseComponents) {
	w.complete(ctx, statusCode, comps, slog.LevelInfo)
}

// CompleteSilently is the same as [ResponseWriter.Complete] but only logs
// at debug level.
func (w *ResponseWriter) CompleteSilently(ctx context.Context, statusCode int, comps ResponseComponents) {
	w.complete(ctx, statusCode, comps, slog.LevelDebug)
}

func (w *ResponseWriter) complete(ctx context.Context, statusCode int, comps ResponseComponents, lvl slog.Level) {
	if !w.completed.CompareAndSwap(false, true) {
		w.h.log.WarnContext(ctx, "response has already been completed", slogfield.StatusCode(statusCode))
		return
	}

	if eventloop.InEventLoop(ctx, w.h.loop) {
		w.write(ctx, statusCode, comps, lvl)
		return
	}

	err := w.h.loop.Execute(ctx, func(ctx context.Context) {
		w.write(ctx, statusCode, comps, lvl)
	})
	if err != nil {
		w.h.log.ErrorContext(ctx, "failed to schedule response write", slogfield.Error(err))
	}
}

func (w *ResponseWriter) write(ctx context.Context, statusCode int, comps ResponseComponents, lvl slog.Level) {
	defer w.h.tel.endRequest(ctx, w.span, statusCode)

	if w.h.closed {
		w.h.log.DebugContext(ctx, "connection closed before response was written", slogfield.StatusCode(statusCode))
		return
	}

	keepAlive := w.h.keepAlive.KeepAlive()
	head := w.responseHead(statusCode, comps, keepAlive)

	var body []byte
	if comps.Body != nil && bodyAllowed(w.req, statusCode) {
		body = comps.Body.Data
	}

	// the connection only returns to idle once the response has actually
	// been written, so a peer which stops reading gets no further responses
	onWritten := func(err error) {
		if w.h.closed {
			return
		}
		if err != nil {
			w.h.log.DebugContext(ctx, "failed to write response", slogfield.Error(err))
			w.h.close(ctx)
			return
		}
		if !keepAlive || !w.h.keepAlive.KeepAlive() {
			w.h.close(ctx)
			return
		}
		w.h.responseComplete()
	}

	parts := splitResponse(head, body, w.h.chunkSize)
	last := len(parts) - 1
	for i, part := range parts {
		if i == last {
			w.h.out.Write(part, onWritten)
			continue
		}
		w.h.out.Write(part, nil)
	}

	w.log(ctx, lvl, statusCode, len(body), keepAlive)
}

// bodyAllowed reports whether a response may carry a body. Responses to
// HEAD requests still describe the body in their head.
func bodyAllowed(req *RequestHead, statusCode int) bool {
	if req != nil && req.Method == http.MethodHead {
		return false
	}
	return statusCode >= 200 && statusCode != http.StatusNoContent && statusCode != http.StatusNotModified
}

func (w *ResponseWriter) responseHead(statusCode int, comps ResponseComponents, keepAlive bool) *ResponseHead {
	head := &ResponseHead{
		ProtoMajor: 1,
		ProtoMinor: 1,
		StatusCode: statusCode,
		Header:     make([]HeaderField, 0, len(comps.Headers)+3),
	}
	http10 := w.req != nil && w.req.ProtoMajor == 1 && w.req.ProtoMinor == 0
	if http10 {
		head.ProtoMinor = 0
	}

	// 1xx and 204 responses must not describe a body at all
	noContent := statusCode < 200 || statusCode == http.StatusNoContent
	contentLength := 0
	if comps.Body != nil {
		contentLength = len(comps.Body.Data)
	}
	if !noContent {
		head.Header = append(head.Header, HeaderField{Name: "Content-Length", Value: strconv.Itoa(contentLength)})
	}

	if comps.Body != nil && !noContent {
		contentType := comps.Body.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		head.Header = append(head.Header, HeaderField{Name: "Content-Type", Value: contentType})
	}

	switch {
	case !keepAlive:
		head.Header = append(head.Header, HeaderField{Name: "Connection", Value: "close"})
	case http10:
		head.Header = append(head.Header, HeaderField{Name: "Connection", Value: "keep-alive"})
	}

	head.Header = append(head.Header, comps.Headers...)
	return head
}

func (w *ResponseWriter) log(ctx context.Context, lvl slog.Level, statusCode, size int, keepAlive bool) {
	if !w.h.log.Enabled(ctx, lvl) {
		return
	}

	attrs := []slog.Attr{
		slogfield.StatusCode(statusCode),
		slogfield.Int("body_size", size),
		slogfield.Bool("keep_alive", keepAlive),
	}
	if w.req != nil {
		attrs = append(
			attrs,
			slogfield.String("method", w.req.Method),
			slogfield.String("target", w.req.Target),
		)
	}
	w.h.log.LogAttrs(ctx, lvl, "completed response", attrs...)
}

type errorBody struct {
	Error string `json:"error"`
}

func errorComponents(msg string) ResponseComponents {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(errorBody{Error: msg})
	if err != nil {
		b = []byte(`{"error":"internal error"}`)
	}
	return ResponseComponents{
		Body: &ResponseBody{
			ContentType: "application/json",
			Data:        b,
		},
	}
}

// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package operation

import (
	"context"
	"encoding"
	"net/http"

	"github.com/z5labs/loam/http1"
	"github.com/z5labs/loam/internal/try"
	"github.com/z5labs/loam/pkg/eventloop"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Empty marks an operation which has no input or no output.
type Empty struct{}

// Handler implements a single operation.
type Handler[Req, Resp any] interface {
	Handle(context.Context, Req) (Resp, error)
}

// HandlerFunc is a func which implements the [Handler] interface.
type HandlerFunc[Req, Resp any] func(context.Context, Req) (Resp, error)

// Handle implements the [Handler] interface.
func (f HandlerFunc[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// ContentTyper lets an output which implements [encoding.BinaryMarshaler]
// name its own content type.
type ContentTyper interface {
	ContentType() string
}

// Validator is called after decoding an input which implements it.
type Validator interface {
	Validate() error
}

// Middleware wraps a [http1.Handler].
type Middleware func(http1.Handler) http1.Handler

type options struct {
	statusCode int
	middleware []Middleware
	errHandler ErrorHandler
	silent     bool
}

// Option configures a single operation.
type Option func(*options)

// DefaultStatusCode is used for successful responses unless
// overridden with [StatusCode].
var DefaultStatusCode = http.StatusOK

// StatusCode sets the status code of successful responses.
func StatusCode(statusCode int) Option {
	return func(o *options) {
		o.statusCode = statusCode
	}
}

// Intercept wraps the operation with mws. The first middleware is the
// outermost.
func Intercept(mws ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mws...)
	}
}

// OnError overrides how errors returned while serving the operation
// are turned into responses.
func OnError(eh ErrorHandler) Option {
	return func(o *options) {
		o.errHandler = eh
	}
}

// Silent only logs completed responses at debug level.
func Silent() Option {
	return func(o *options) {
		o.silent = true
	}
}

// Handle registers h for requests whose method and path match exactly.
func Handle[Req, Resp any](method string, path string, h Handler[Req, Resp], opts ...Option) RouterOption {
	o := &options{
		statusCode: DefaultStatusCode,
		errHandler: DefaultErrorHandler(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var op http1.Handler = &operation[Req, Resp]{
		statusCode: o.statusCode,
		handler:    h,
		errHandler: o.errHandler,
		silent:     o.silent,
	}
	op = chain(op, o.middleware...)

	return func(r *Router) {
		r.register(method, path, op)
	}
}

type operation[Req, Resp any] struct {
	statusCode int
	handler    Handler[Req, Resp]
	errHandler ErrorHandler
	silent     bool
}

// Handle implements the [http1.Handler] interface. The operation runs on
// its own goroutine so the connection's loop is never blocked by it.
func (op *operation[Req, Resp]) Handle(ctx context.Context, head *http1.RequestHead, body []byte, w *http1.ResponseWriter) {
	ctx = withRequestHead(eventloop.Detach(ctx), head)
	go op.serve(ctx, body, w)
}

func (op *operation[Req, Resp]) serve(ctx context.Context, body []byte, w *http1.ResponseWriter) {
	comps, err := op.run(ctx, body)
	if err != nil {
		statusCode, comps := op.errHandler.HandleError(ctx, err)
		op.complete(ctx, w, statusCode, comps)
		return
	}
	op.complete(ctx, w, op.statusCode, comps)
}

func (op *operation[Req, Resp]) run(ctx context.Context, body []byte) (comps http1.ResponseComponents, err error) {
	defer try.Recover(&err)

	req, err := decode[Req](body)
	if err != nil {
		return comps, err
	}

	resp, err := op.handler.Handle(ctx, req)
	if err != nil {
		return comps, err
	}
	return encode(resp)
}

func (op *operation[Req, Resp]) complete(ctx context.Context, w *http1.ResponseWriter, statusCode int, comps http1.ResponseComponents) {
	if op.silent {
		w.CompleteSilently(ctx, statusCode, comps)
		return
	}
	w.Complete(ctx, statusCode, comps)
}

func decode[Req any](body []byte) (Req, error) {
	var req Req
	switch x := any(&req).(type) {
	case *Empty:
		return req, nil
	case encoding.BinaryUnmarshaler:
		err := x.UnmarshalBinary(body)
		if err != nil {
			return req, DecodeError{Cause: err}
		}
	default:
		if len(body) == 0 {
			return req, DecodeError{Cause: ErrMissingBody}
		}
		err := json.Unmarshal(body, &req)
		if err != nil {
			return req, DecodeError{Cause: err}
		}
	}

	if v, ok := any(req).(Validator); ok {
		err := v.Validate()
		if err != nil {
			return req, ValidationError{Cause: err}
		}
	}
	return req, nil
}

func encode[Resp any](resp Resp) (http1.ResponseComponents, error) {
	var comps http1.ResponseComponents
	switch x := any(resp).(type) {
	case Empty, *Empty:
		return comps, nil
	case encoding.BinaryMarshaler:
		b, err := x.MarshalBinary()
		if err != nil {
			return comps, EncodeError{Cause: err}
		}
		contentType := "application/octet-stream"
		if ct, ok := x.(ContentTyper); ok {
			contentType = ct.ContentType()
		}
		comps.Body = &http1.ResponseBody{ContentType: contentType, Data: b}
		return comps, nil
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return comps, EncodeError{Cause: err}
	}
	comps.Body = &http1.ResponseBody{ContentType: "application/json", Data: b}
	return comps, nil
}

func chain(h http1.Handler, mws ...Middleware) http1.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type requestHeadKey struct{}

func withRequestHead(ctx context.Context, head *http1.RequestHead) context.Context {
	return context.WithValue(ctx, requestHeadKey{}, head)
}

// RequestHead returns the head of the request an operation is serving.
func RequestHead(ctx context.Context) (*http1.RequestHead, bool) {
	head, ok := ctx.Value(requestHeadKey{}).(*http1.RequestHead)
	return head, ok
}

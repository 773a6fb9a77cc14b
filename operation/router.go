// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package operation

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/z5labs/loam/http1"
)

type routeKey struct {
	method string
	path   string
}

// Router dispatches requests to operations by exact method and path.
type Router struct {
	routes  map[routeKey]http1.Handler
	methods map[string][]string

	notFound         http1.Handler
	methodNotAllowed http1.Handler
	middleware       []Middleware

	handler http1.Handler
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithMiddleware wraps the whole router with mws. The first middleware is
// the outermost.
func WithMiddleware(mws ...Middleware) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mws...)
	}
}

// NotFoundHandler replaces the default "404 Not Found" response.
func NotFoundHandler(h http1.Handler) RouterOption {
	return func(r *Router) {
		r.notFound = h
	}
}

// MethodNotAllowedHandler replaces the default "405 Method Not Allowed"
// response, sent when the path is known but not for the request method.
func MethodNotAllowedHandler(h http1.Handler) RouterOption {
	return func(r *Router) {
		r.methodNotAllowed = h
	}
}

// NewRouter builds a [Router] from operations registered with [Handle].
// Registering the same method and path twice panics with a
// [DuplicateRouteError].
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		routes:           make(map[routeKey]http1.Handler),
		methods:          make(map[string][]string),
		notFound:         http1.HandlerFunc(notFound),
		methodNotAllowed: http1.HandlerFunc(methodNotAllowed),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handler = chain(http1.HandlerFunc(r.dispatch), r.middleware...)
	return r
}

// Handle implements the [http1.Handler] interface.
func (r *Router) Handle(ctx context.Context, head *http1.RequestHead, body []byte, w *http1.ResponseWriter) {
	r.handler.Handle(ctx, head, body, w)
}

func (r *Router) register(method, path string, h http1.Handler) {
	key := routeKey{method: method, path: path}
	if _, exists := r.routes[key]; exists {
		panic(DuplicateRouteError{Method: method, Path: path})
	}
	r.routes[key] = h
	r.methods[path] = append(r.methods[path], method)
}

func (r *Router) dispatch(ctx context.Context, head *http1.RequestHead, body []byte, w *http1.ResponseWriter) {
	path := head.Path()
	h, ok := r.routes[routeKey{method: head.Method, path: path}]
	if ok {
		h.Handle(ctx, head, body, w)
		return
	}
	if _, known := r.methods[path]; known {
		r.methodNotAllowed.Handle(withAllowed(ctx, r.methods[path]), head, body, w)
		return
	}
	r.notFound.Handle(ctx, head, body, w)
}

type allowedKey struct{}

func withAllowed(ctx context.Context, methods []string) context.Context {
	allowed := slices.Clone(methods)
	slices.Sort(allowed)
	return context.WithValue(ctx, allowedKey{}, allowed)
}

// AllowedMethods returns the methods registered for the path of a
// request which is being answered with 405.
func AllowedMethods(ctx context.Context) []string {
	methods, _ := ctx.Value(allowedKey{}).([]string)
	return methods
}

func notFound(ctx context.Context, head *http1.RequestHead, _ []byte, w *http1.ResponseWriter) {
	w.Complete(ctx, http.StatusNotFound, ErrorComponents(http.StatusText(http.StatusNotFound)))
}

func methodNotAllowed(ctx context.Context, head *http1.RequestHead, _ []byte, w *http1.ResponseWriter) {
	comps := ErrorComponents(http.StatusText(http.StatusMethodNotAllowed))
	comps.Headers = append(comps.Headers, http1.HeaderField{
		Name:  "Allow",
		Value: strings.Join(AllowedMethods(ctx), ", "),
	})
	w.Complete(ctx, http.StatusMethodNotAllowed, comps)
}

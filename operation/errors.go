// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/z5labs/loam/http1"
	"github.com/z5labs/loam/internal/try"
	"github.com/z5labs/loam/pkg/noop"
	"github.com/z5labs/loam/pkg/slogfield"

	"github.com/sony/gobreaker"
)

// ErrMissingBody is returned when an operation expects input but the
// request had no body.
var ErrMissingBody = errors.New("operation: missing request body")

// DecodeError is returned when a request body cannot be decoded.
type DecodeError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e DecodeError) Error() string {
	return fmt.Sprintf("failed to decode request body: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e DecodeError) Unwrap() error {
	return e.Cause
}

// ValidationError is returned when a decoded request fails validation.
type ValidationError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ValidationError) Unwrap() error {
	return e.Cause
}

// EncodeError is returned when a response cannot be encoded.
type EncodeError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e EncodeError) Error() string {
	return fmt.Sprintf("failed to encode response body: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e EncodeError) Unwrap() error {
	return e.Cause
}

// StatusError lets a [Handler] pick the status code and message of its
// error response.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the [builtin.error] interface.
func (e StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// DuplicateRouteError is the panic value of registering the same method
// and path twice.
type DuplicateRouteError struct {
	Method string
	Path   string
}

// Error implements the [builtin.error] interface.
func (e DuplicateRouteError) Error() string {
	return fmt.Sprintf("operation: route already registered: %s %s", e.Method, e.Path)
}

// ErrorHandler turns an error returned while serving an operation into
// a response.
type ErrorHandler interface {
	HandleError(context.Context, error) (int, http1.ResponseComponents)
}

// ErrorHandlerFunc is a func which implements the [ErrorHandler] interface.
type ErrorHandlerFunc func(context.Context, error) (int, http1.ResponseComponents)

// HandleError implements the [ErrorHandler] interface.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, err error) (int, http1.ResponseComponents) {
	return f(ctx, err)
}

type errorHandlerOptions struct {
	logHandler slog.Handler
}

// ErrorHandlerOption configures the [DefaultErrorHandler].
type ErrorHandlerOption func(*errorHandlerOptions)

// LogErrors logs every server error handled by the [DefaultErrorHandler].
func LogErrors(h slog.Handler) ErrorHandlerOption {
	return func(o *errorHandlerOptions) {
		o.logHandler = h
	}
}

// DefaultErrorHandler responds with a JSON body of the form
// {"error": "..."}. Server errors never expose their message.
//
//   - [DecodeError] and [ValidationError] respond with 400
//   - [StatusError] responds with its own status code and message
//   - an open circuit breaker responds with 503
//   - anything else, including recovered panics, responds with 500
func DefaultErrorHandler(opts ...ErrorHandlerOption) ErrorHandler {
	o := &errorHandlerOptions{
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	log := slog.New(o.logHandler)

	return ErrorHandlerFunc(func(ctx context.Context, err error) (int, http1.ResponseComponents) {
		var (
			decodeErr     DecodeError
			validationErr ValidationError
			statusErr     StatusError
			panicErr      try.PanicError
		)
		switch {
		case errors.As(err, &decodeErr), errors.As(err, &validationErr):
			return http.StatusBadRequest, ErrorComponents(err.Error())
		case errors.As(err, &statusErr):
			return statusErr.StatusCode, ErrorComponents(statusErr.Message)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return http.StatusServiceUnavailable, ErrorComponents(http.StatusText(http.StatusServiceUnavailable))
		case errors.As(err, &panicErr):
			log.ErrorContext(ctx, "recovered from panic in operation", slogfield.Error(err))
		default:
			log.ErrorContext(ctx, "operation failed", slogfield.Error(err))
		}
		return http.StatusInternalServerError, ErrorComponents(http.StatusText(http.StatusInternalServerError))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorComponents returns a JSON error body for msg.
func ErrorComponents(msg string) http1.ResponseComponents {
	b, err := json.Marshal(errorBody{Error: msg})
	if err != nil {
		b = []byte(`{"error":"internal error"}`)
	}
	return http1.ResponseComponents{
		Body: &http1.ResponseBody{
			ContentType: "application/json",
			Data:        b,
		},
	}
}

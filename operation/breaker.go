// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package operation

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

type breakerOptions struct {
	settings gobreaker.Settings
	tripAt   uint32
	failure  func(error) bool
}

// BreakerOption configures [CircuitBreaker].
type BreakerOption func(*breakerOptions)

// BreakerName names the breaker in state change callbacks.
func BreakerName(name string) BreakerOption {
	return func(o *breakerOptions) {
		o.settings.Name = name
	}
}

// TripAfter opens the breaker after n consecutive failures.
// Default is 5.
func TripAfter(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		o.tripAt = n
	}
}

// OpenFor sets how long the breaker stays open before letting a trial
// request through.
// Default is 60 seconds.
func OpenFor(d time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		o.settings.Timeout = d
	}
}

// HalfOpenRequests sets how many trial requests are let through while
// half open.
// Default is 1.
func HalfOpenRequests(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		o.settings.MaxRequests = n
	}
}

// OnStateChange is called whenever the breaker changes state.
func OnStateChange(f func(name string, from, to gobreaker.State)) BreakerOption {
	return func(o *breakerOptions) {
		o.settings.OnStateChange = f
	}
}

// CountAsFailure decides which errors count towards tripping the breaker.
// By default client errors, [DecodeError], [ValidationError] and
// [StatusError]s below 500, do not count.
func CountAsFailure(f func(error) bool) BreakerOption {
	return func(o *breakerOptions) {
		o.failure = f
	}
}

// CircuitBreaker stops calling h once it keeps failing. While open every
// call fails with [gobreaker.ErrOpenState], which the
// [DefaultErrorHandler] maps to 503.
func CircuitBreaker[Req, Resp any](h Handler[Req, Resp], opts ...BreakerOption) Handler[Req, Resp] {
	o := &breakerOptions{
		tripAt:  5,
		failure: isServerFailure,
	}
	for _, opt := range opts {
		opt(o)
	}

	tripAt := o.tripAt
	o.settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= tripAt
	}
	o.settings.IsSuccessful = func(err error) bool {
		return err == nil || !o.failure(err)
	}

	return &breaker[Req, Resp]{
		cb:    gobreaker.NewCircuitBreaker(o.settings),
		inner: h,
	}
}

type breaker[Req, Resp any] struct {
	cb    *gobreaker.CircuitBreaker
	inner Handler[Req, Resp]
}

// Handle implements the [Handler] interface.
func (b *breaker[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Handle(ctx, req)
	})
	resp, _ := v.(Resp)
	return resp, err
}

func isServerFailure(err error) bool {
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	var (
		decodeErr     DecodeError
		validationErr ValidationError
	)
	return !errors.As(err, &decodeErr) && !errors.As(err, &validationErr)
}

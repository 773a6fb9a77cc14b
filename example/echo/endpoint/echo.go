// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package endpoint

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/z5labs/loam/operation"
	"github.com/z5labs/loam/pkg/slogfield"

	"github.com/sony/gobreaker"
)

// ErrEmptyMessage is returned when an echo request carries no message.
var ErrEmptyMessage = errors.New("msg must not be empty")

type EchoRequest struct {
	Msg string `json:"msg"`
}

// Validate implements the [operation.Validator] interface.
func (req EchoRequest) Validate() error {
	if len(req.Msg) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

type EchoResponse struct {
	Msg string `json:"msg"`
}

type echoHandler struct {
	log *slog.Logger
}

// Echo registers POST /echo which responds with the message it was sent.
func Echo(h slog.Handler) operation.RouterOption {
	e := &echoHandler{
		log: slog.New(h),
	}

	return operation.Handle[EchoRequest, EchoResponse](
		http.MethodPost,
		"/echo",
		operation.CircuitBreaker[EchoRequest, EchoResponse](
			e,
			operation.BreakerName("echo"),
			operation.OnStateChange(e.breakerStateChanged),
		),
	)
}

func (h *echoHandler) Handle(ctx context.Context, req EchoRequest) (EchoResponse, error) {
	h.log.InfoContext(ctx, "echoing back received message to client", slogfield.String("echo_msg", req.Msg))
	return EchoResponse{Msg: req.Msg}, nil
}

func (h *echoHandler) breakerStateChanged(name string, from, to gobreaker.State) {
	h.log.Warn(
		"circuit breaker changed state",
		slogfield.String("breaker", name),
		slogfield.String("from", from.String()),
		slogfield.String("to", to.String()),
	)
}

// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package operation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/z5labs/loam/http1"
	"github.com/z5labs/loam/pkg/slogfield"
)

// LogRequests logs every request before it is handled.
func LogRequests(h slog.Handler) Middleware {
	log := slog.New(h)
	return func(next http1.Handler) http1.Handler {
		return http1.HandlerFunc(func(ctx context.Context, head *http1.RequestHead, body []byte, w *http1.ResponseWriter) {
			log.DebugContext(
				ctx,
				"received request",
				slogfield.String("method", head.Method),
				slogfield.String("target", head.Target),
				slogfield.Int("body_size", len(body)),
				slogfield.Header(head.Header),
			)
			next.Handle(ctx, head, body, w)
		})
	}
}

// RequireHeader rejects requests missing header with 400.
func RequireHeader(name string) Middleware {
	return func(next http1.Handler) http1.Handler {
		return http1.HandlerFunc(func(ctx context.Context, head *http1.RequestHead, body []byte, w *http1.ResponseWriter) {
			if head.Header.Get(name) == "" {
				w.Complete(ctx, http.StatusBadRequest, ErrorComponents("missing required header: "+name))
				return
			}
			next.Handle(ctx, head, body, w)
		})
	}
}

// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelslog provides a OpenTelemetry aware slog.Handler implementation.
package otelslog

import (
	"context"
	"log/slog"

	"github.com/z5labs/loam/pkg/slogfield"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler correlates log records with the span active in the
// record's context by adding an "otel" group holding the trace id,
// span id and whether the span is sampled.
type Handler struct {
	slog slog.Handler

	spanEvents     bool
	spanEventLevel slog.Level
}

// Option configures a [Handler].
type Option func(*Handler)

// SpanEvents records every log record at or above lvl as an event on
// the span active in the record's context, if that span is recording.
func SpanEvents(lvl slog.Level) Option {
	return func(h *Handler) {
		h.spanEvents = true
		h.spanEventLevel = lvl
	}
}

// NewHandler wraps h.
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	oh := &Handler{slog: h}
	for _, opt := range opts {
		opt(oh)
	}
	return oh
}

// New provides a simple wrapper for slog.New(NewHandler(h, opts...)).
func New(h slog.Handler, opts ...Option) *slog.Logger {
	return slog.New(NewHandler(h, opts...))
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return h.slog.Handle(ctx, record)
	}

	if h.spanEvents && record.Level >= h.spanEventLevel {
		addSpanEvent(trace.SpanFromContext(ctx), record)
	}

	r := record.Clone()
	r.AddAttrs(
		slog.Group(
			"otel",
			slogfield.String("trace_id", spanCtx.TraceID().String()),
			slogfield.String("span_id", spanCtx.SpanID().String()),
			slogfield.Bool("sampled", spanCtx.IsSampled()),
		),
	)
	return h.slog.Handle(ctx, r)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(h.slog.WithAttrs(attrs))
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return h.with(h.slog.WithGroup(name))
}

func (h *Handler) with(sh slog.Handler) *Handler {
	return &Handler{
		slog:           sh,
		spanEvents:     h.spanEvents,
		spanEventLevel: h.spanEventLevel,
	}
}

func addSpanEvent(span trace.Span, record slog.Record) {
	if !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, record.NumAttrs()+1)
	attrs = append(attrs, attribute.String("log.severity", record.Level.String()))
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, attribute.String(a.Key, a.Value.Resolve().String()))
		return true
	})
	span.AddEvent(record.Message, trace.WithAttributes(attrs...))
}

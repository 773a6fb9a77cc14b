// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/z5labs/loam/http1"

type telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	connections metric.Int64UpDownCounter
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) (*telemetry, error) {
	meter := mp.Meter(instrumentationName)

	connections, err := meter.Int64UpDownCounter(
		"http1.server.connections",
		metric.WithDescription("Number of open connections."),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter(
		"http1.server.requests",
		metric.WithDescription("Number of completed requests."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"http1.server.request.duration",
		metric.WithDescription("Time from receiving the end of a request until its response is written."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t := &telemetry{
		tracer:      tp.Tracer(instrumentationName),
		propagator:  prop,
		connections: connections,
		requests:    requests,
		duration:    duration,
	}
	return t, nil
}

// requestSpan is ended exactly once, by the ResponseWriter. span is nil
// for requests rejected before a head was received.
type requestSpan struct {
	span   trace.Span
	method string
	start  time.Time
}

func (t *telemetry) startRequest(ctx context.Context, head *RequestHead) (context.Context, *requestSpan) {
	if head == nil {
		return ctx, &requestSpan{start: time.Now()}
	}

	ctx = t.propagator.Extract(ctx, propagation.HeaderCarrier(head.Header))

	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(head.Method),
		semconv.URLPathKey.String(head.Path()),
		semconv.NetworkProtocolNameKey.String("http"),
		semconv.NetworkProtocolVersionKey.String(protocolVersion(head)),
	}
	ctx, span := t.tracer.Start(
		ctx,
		head.Method+" "+head.Path(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &requestSpan{span: span, method: head.Method, start: time.Now()}
}

func (t *telemetry) endRequest(ctx context.Context, rs *requestSpan, statusCode int) {
	attrs := metric.WithAttributes(
		semconv.HTTPRequestMethodKey.String(rs.method),
		semconv.HTTPResponseStatusCodeKey.Int(statusCode),
	)
	t.requests.Add(ctx, 1, attrs)
	t.duration.Record(ctx, time.Since(rs.start).Seconds(), attrs)

	if rs.span == nil {
		return
	}
	rs.span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(statusCode))
	if statusCode >= 500 {
		rs.span.SetStatus(codes.Error, "")
	}
	rs.span.End()
}

// protocolVersion is the version without the "HTTP/" prefix, e.g. "1.1".
func protocolVersion(head *RequestHead) string {
	return strconv.Itoa(head.ProtoMajor) + "." + strconv.Itoa(head.ProtoMinor)
}

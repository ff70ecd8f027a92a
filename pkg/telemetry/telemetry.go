// Package telemetry defines the TelemetrySink port (spec §6) and a default
// in-process implementation wiring OpenTelemetry spans and Prometheus
// metrics, grounded on the teacher's tracer-span usage
// (pkg/memory/vector_memory.go) generalized off its vector-memory-specific
// span names.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InteractionRecord is the subset of an interaction the sink persists for
// observability purposes (spec §6 "record_interaction(record)").
type InteractionRecord struct {
	InteractionID   string
	SessionID       string
	Mode            string
	Success         bool
	Confidence      float64
	ExecutionTimeMs int64
}

// Span describes one traced operation for `record_span` (spec §6).
type Span struct {
	Name       string
	Component  string
	DurationMs int64
	Attributes map[string]string
	Err        error
}

// Sink is the port the core depends on for telemetry (spec §6
// "TelemetrySink"); failures are best-effort and never propagate to
// callers.
type Sink interface {
	RecordInteraction(ctx context.Context, record InteractionRecord)
	RecordSpan(ctx context.Context, span Span)
}

// OtelSink is the default Sink: every call opens/closes an otel span and
// updates Prometheus counters/gauges registered by NewOtelSink. Any
// failure to emit telemetry is logged, never surfaced (spec §6 "best-
// effort; failures are logged, never propagated").
type OtelSink struct {
	tracer trace.Tracer
	logger *slog.Logger
	metrics *metrics
}

func NewOtelSink(logger *slog.Logger) *OtelSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &OtelSink{
		tracer:  otel.Tracer("agentcore.orchestrator"),
		logger:  logger,
		metrics: newMetrics(),
	}
}

func (s *OtelSink) RecordInteraction(ctx context.Context, record InteractionRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("telemetry: panic recording interaction", "panic", r)
		}
	}()

	_, span := s.tracer.Start(ctx, "orchestrator.interaction",
		trace.WithAttributes(
			attribute.String("session_id", record.SessionID),
			attribute.String("mode", record.Mode),
			attribute.Bool("success", record.Success),
			attribute.Float64("confidence", record.Confidence),
		),
	)
	if record.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "interaction failed")
	}
	span.End()

	s.metrics.interactionsTotal.WithLabelValues(record.Mode, statusLabel(record.Success)).Inc()
	s.metrics.interactionLatency.WithLabelValues(record.Mode).Observe(float64(record.ExecutionTimeMs))
	s.metrics.confidenceGauge.WithLabelValues(record.Mode).Set(record.Confidence)
}

func (s *OtelSink) RecordSpan(ctx context.Context, span Span) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("telemetry: panic recording span", "panic", r)
		}
	}()

	attrs := make([]attribute.KeyValue, 0, len(span.Attributes)+1)
	attrs = append(attrs, attribute.String("component", span.Component))
	for k, v := range span.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	_, otelSpan := s.tracer.Start(ctx, span.Name, trace.WithAttributes(attrs...))
	if span.Err != nil {
		otelSpan.RecordError(span.Err)
		otelSpan.SetStatus(codes.Error, span.Err.Error())
	} else {
		otelSpan.SetStatus(codes.Ok, "")
	}
	otelSpan.End()

	s.metrics.spanDuration.WithLabelValues(span.Component, span.Name).Observe(float64(span.DurationMs))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Now returns the current wall clock in epoch milliseconds.
func Now() int64 { return time.Now().UnixMilli() }

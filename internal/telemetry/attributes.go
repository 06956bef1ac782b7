// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by bridge spans.
const (
	SessionIDKey = "bridge.session_id"
	LegRoleKey   = "bridge.leg_role"
	LegIDKey     = "bridge.leg_id"
	EventKey     = "bridge.event"
	OperationKey = "upstream.operation"

	ErrorKey     = "error"
)

const instrumentation = "github.com/ManuGH/pstnbridge"

// LegAttributes describes the leg a span acts on. Empty values are left out.
func LegAttributes(sessionID, role, legID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if role != "" {
		attrs = append(attrs, attribute.String(LegRoleKey, role))
	}
	if legID != "" {
		attrs = append(attrs, attribute.String(LegIDKey, legID))
	}
	return attrs
}

// StartSpan starts an internal span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.Bool(ErrorKey, true))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/amtp-protocol/schemavault/internal/logging"
)

const defaultServiceName = "schemavault"

// tracing owns the SDK tracer provider the registry records its spans into
type tracing struct {
	provider *sdktrace.TracerProvider
}

func newTracing(serviceName string, logger *logging.Logger) *tracing {
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(newLogSpanProcessor(logger)),
	)
	return &tracing{provider: provider}
}

func (t *tracing) shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// logSpanProcessor writes every finished span as a debug log line. Failed
// spans are logged at warn level.
type logSpanProcessor struct {
	logger *logging.Logger
}

func newLogSpanProcessor(logger *logging.Logger) *logSpanProcessor {
	return &logSpanProcessor{logger: logger.WithComponent("tracing")}
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	fields := map[string]interface{}{
		"span":        span.Name(),
		"trace_id":    span.SpanContext().TraceID().String(),
		"span_id":     span.SpanContext().SpanID().String(),
		"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
	}
	for _, kv := range span.Attributes() {
		fields[string(kv.Key)] = kv.Value.Emit()
	}

	logger := p.logger.WithFields(fields)
	if span.Status().Code == codes.Error {
		logger.Warnf("Span failed: %s", span.Status().Description)
		return
	}
	logger.Debug("Span finished")
}

func (p *logSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }

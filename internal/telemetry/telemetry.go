// Package telemetry threads OpenTelemetry spans through workflow/job
// execution, carrying run_id/parent_run_id as span attributes, complementing
// rather than replacing the structured trace sink.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "workflow-core"

// InstallSDKProvider installs a minimal in-process sdktrace.TracerProvider
// as the global otel provider, with the given sampler (pass
// sdktrace.AlwaysSample() to trace every run, or sdktrace.NeverSample() to
// disable export while still exercising the span API). Processes that want
// spans exported call this once at startup with a configured
// SpanProcessor/exporter attached to the returned provider; exporter wiring
// itself is left to the embedding application (§1: out of CORE scope).
func InstallSDKProvider(sampler sdktrace.Sampler, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithSampler(sampler)}, opts...)...)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer starts and ends run/job spans, tracking in-flight spans by run id
// so EndRunSpan can be called from a different goroutine than StartRunSpan
// (the workflow executor starts a run span before fanning out job
// goroutines and ends it after they all join).
type Tracer struct {
	tracer trace.Tracer
	mu     sync.Mutex
	spans  map[string]trace.Span
}

// New returns a Tracer using the global otel TracerProvider. Callers that
// want spans exported configure an SDK TracerProvider (otel/sdk) and call
// otel.SetTracerProvider before constructing workflows; a Tracer built
// before that call still works, since otel.Tracer resolves lazily.
func New() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName), spans: make(map[string]trace.Span)}
}

// StartRunSpan opens a span for a workflow run and returns the derived
// context, to be threaded through job/stage dispatch.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, parentRunID, workflowName string) context.Context {
	spanCtx, span := t.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("parent_run_id", parentRunID),
			attribute.String("workflow.name", workflowName),
		),
	)
	t.mu.Lock()
	t.spans[runID] = span
	t.mu.Unlock()
	return spanCtx
}

// EndRunSpan closes the span started by StartRunSpan for runID, recording
// status and an error if the run did not finish SUCCESS.
func (t *Tracer) EndRunSpan(runID, status string, err error) {
	t.mu.Lock()
	span, ok := t.spans[runID]
	delete(t.spans, runID)
	t.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if status == "FAILED" || status == "CANCEL" {
		span.SetStatus(codes.Error, status)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartJobSpan opens a child span for one job's execution within a run.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "workflow.job", trace.WithAttributes(attribute.String("job.id", jobID)))
}

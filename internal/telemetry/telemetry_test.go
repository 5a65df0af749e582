package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stretchr/testify/require"
)

func TestRunSpanLifecycle(t *testing.T) {
	InstallSDKProvider(sdktrace.AlwaysSample())

	tr := New()
	ctx := tr.StartRunSpan(context.Background(), "run-1", "", "demo")
	require.NotNil(t, ctx)

	jobCtx, span := tr.StartJobSpan(ctx, "job-a")
	require.NotNil(t, jobCtx)
	span.End()

	tr.EndRunSpan("run-1", "SUCCESS", nil)
	// Ending an unknown run id must be a no-op, not a panic.
	tr.EndRunSpan("missing", "FAILED", nil)
}

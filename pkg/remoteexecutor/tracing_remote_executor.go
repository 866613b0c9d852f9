package remoteexecutor

import (
	"context"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracingRemoteExecutor struct {
	RemoteExecutor
	tracer trace.Tracer
}

// NewTracingRemoteExecutor is a decorator for RemoteExecutor that
// creates an OpenTelemetry trace span for every action executed
// remotely. An event is added to the span for every change of the
// execution stage reported by the service.
func NewTracingRemoteExecutor(base RemoteExecutor, tracerProvider trace.TracerProvider) RemoteExecutor {
	return &tracingRemoteExecutor{
		RemoteExecutor: base,
		tracer:         tracerProvider.Tracer("github.com/buildbarn/bb-remote-client/pkg/remoteexecutor"),
	}
}

func (re *tracingRemoteExecutor) Execute(ctx context.Context, request *remoteexecution.ExecuteRequest, observer OperationObserver) (*remoteexecution.ExecuteResponse, error) {
	actionDigest := request.GetActionDigest()
	ctxWithTracing, span := re.tracer.Start(ctx, "RemoteExecutor.Execute", trace.WithAttributes(
		attribute.String("action_digest.hash", actionDigest.GetHash()),
		attribute.Int64("action_digest.size_bytes", actionDigest.GetSizeBytes()),
		attribute.String("instance_name", request.GetInstanceName()),
		attribute.Bool("skip_cache_lookup", request.GetSkipCacheLookup()),
	))
	defer span.End()

	return re.RemoteExecutor.Execute(ctxWithTracing, request, &stageEventAppendingObserver{
		base: observer,
		span: span,
	})
}

type stageEventAppendingObserver struct {
	base      OperationObserver
	span      trace.Span
	lastStage remoteexecution.ExecutionStage_Value
}

func (o *stageEventAppendingObserver) OnOperation(operation *longrunningpb.Operation) {
	o.base.OnOperation(operation)
	if stage := getOperationStage(operation); stage != o.lastStage {
		o.span.AddEvent(stage.String())
		o.lastStage = stage
	}
}

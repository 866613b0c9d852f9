package remoteexecutor

import (
	"context"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// RemoteExecutor runs a single action on a remote execution service,
// blocking until a terminal ExecuteResponse is available or execution
// has failed definitively.
//
// Implementations must report every longrunning.Operation received
// from the service to the provided OperationObserver, in the order of
// receipt and before acting on its contents. This includes operations
// that later turn out to describe a failure.
type RemoteExecutor interface {
	Execute(ctx context.Context, request *remoteexecution.ExecuteRequest, observer OperationObserver) (*remoteexecution.ExecuteResponse, error)
}

// OperationObserver is informed of the progress of an action that is
// being executed remotely.
type OperationObserver interface {
	OnOperation(operation *longrunningpb.Operation)
}

type noopOperationObserver struct{}

func (noopOperationObserver) OnOperation(operation *longrunningpb.Operation) {}

// NoopOperationObserver discards all progress updates.
var NoopOperationObserver OperationObserver = noopOperationObserver{}

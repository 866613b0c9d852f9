package remoteexecutor

import (
	"fmt"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	status_pb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
)

// ExecutionStatusError is returned when the remote execution service
// has rendered a verdict on the action: the operation carried an error
// result, the ExecuteResponse embedded a non-OK status, or the
// operation completed without providing a result. Such failures are
// terminal. Repeating the call will not change the outcome, so callers
// must not retry them.
type ExecutionStatusError struct {
	// Status describes why execution failed. For protocol
	// violations, such as a completed operation without a result,
	// this is a synthetic DATA_LOSS status.
	Status *status_pb.Status
	// Response holds the ExecuteResponse that accompanied the
	// failure, if any. It may still contain server logs and partial
	// results that are useful for diagnostics.
	Response *remoteexecution.ExecuteResponse
}

func (e *ExecutionStatusError) Error() string {
	return fmt.Sprintf("execution failed with %s: %s", codes.Code(e.Status.GetCode()), e.Status.GetMessage())
}

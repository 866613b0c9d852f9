package remoteexecutor

import (
	"cloud.google.com/go/longrunning/autogen/longrunningpb"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// getOperationStage extracts the execution stage from the
// ExecuteOperationMetadata attached to an operation. Operations
// without usable metadata are reported as being in the UNKNOWN stage.
func getOperationStage(operation *longrunningpb.Operation) remoteexecution.ExecutionStage_Value {
	if payload := operation.GetMetadata(); payload != nil {
		var metadata remoteexecution.ExecuteOperationMetadata
		if err := payload.UnmarshalTo(&metadata); err == nil {
			return metadata.GetStage()
		}
	}
	return remoteexecution.ExecutionStage_UNKNOWN
}

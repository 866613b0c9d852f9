package remoteexecutor

import (
	"log"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

type loggingOperationObserver struct {
	lastName  string
	lastStage remoteexecution.ExecutionStage_Value
}

// NewLoggingOperationObserver creates an OperationObserver that prints
// the name of the operation backing an execution, and any execution
// stage transitions the service reports. Repeated updates that do not
// change either are not logged.
func NewLoggingOperationObserver() OperationObserver {
	return &loggingOperationObserver{}
}

func (o *loggingOperationObserver) OnOperation(operation *longrunningpb.Operation) {
	if name := operation.GetName(); name != o.lastName {
		log.Print("Execution operation: ", name)
		o.lastName = name
	}
	if stage := getOperationStage(operation); stage != o.lastStage {
		log.Print("Execution stage: ", stage)
		o.lastStage = stage
	}
}

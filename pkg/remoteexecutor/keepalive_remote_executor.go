package remoteexecutor

import (
	"context"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-client/pkg/retry"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type keepaliveRemoteExecutor struct {
	executionClient             remoteexecution.ExecutionClient
	retrier                     retry.Retrier
	executeBackoffFactory       retry.BackoffFactory
	waitExecutionBackoffFactory retry.BackoffFactory
	credentialsRefresher        CredentialsRefresher
	callTimeout                 time.Duration
}

// NewKeepaliveRemoteExecutor creates a RemoteExecutor that drives the
// Execute and WaitExecution calls of the Remote Execution API to
// completion. When a connection breaks after the service has
// acknowledged an action, progress is picked up through WaitExecution
// instead of submitting the action a second time. The action is only
// resubmitted once the service explicitly reports that the operation
// no longer exists.
//
// Execute attempts draw from a bounded backoff budget, as resubmitting
// an action causes it to be run from scratch. WaitExecution attempts
// regain their full budget whenever an operation is received, so that
// waiting may continue indefinitely as long as the service shows the
// action to be alive. If callTimeout is nonzero, every individual call
// is given a deadline, preventing it from blocking indefinitely on a
// service that has stopped responding.
func NewKeepaliveRemoteExecutor(executionClient remoteexecution.ExecutionClient, retrier retry.Retrier, executeBackoffFactory, waitExecutionBackoffFactory retry.BackoffFactory, credentialsRefresher CredentialsRefresher, callTimeout time.Duration) RemoteExecutor {
	return &keepaliveRemoteExecutor{
		executionClient:             executionClient,
		retrier:                     retrier,
		executeBackoffFactory:       executeBackoffFactory,
		waitExecutionBackoffFactory: waitExecutionBackoffFactory,
		credentialsRefresher:        credentialsRefresher,
		callTimeout:                 callTimeout,
	}
}

func (re *keepaliveRemoteExecutor) Execute(ctx context.Context, request *remoteexecution.ExecuteRequest, observer OperationObserver) (*remoteexecution.ExecuteResponse, error) {
	e := execution{
		executor: re,
		request:  request,
		observer: observer,
	}
	return e.run(ctx)
}

// execution holds the state of a single logical action execution,
// which may span many Execute and WaitExecution calls. Every call to
// RemoteExecutor.Execute owns one instance exclusively, so no locking
// is needed.
type execution struct {
	executor *keepaliveRemoteExecutor
	request  *remoteexecution.ExecuteRequest
	observer OperationObserver

	// The most recent operation received without error. As long as
	// this field is set, the action is acknowledged by the service
	// and must not be submitted again. It is cleared only when the
	// service reports the operation unknown.
	lastOperation        *longrunningpb.Operation
	waitExecutionBackoff retry.Backoff
	response             *remoteexecution.ExecuteResponse
}

func (e *execution) run(ctx context.Context) (*remoteexecution.ExecuteResponse, error) {
	for {
		// Submit the action to the service.
		if err := e.executor.retrier.Execute(ctx, e.executor.executeBackoffFactory(), func() error {
			return e.callWithCredentialsRefresh(ctx, e.execute)
		}); err != nil {
			return nil, err
		}
		if e.response != nil {
			return e.response, nil
		}

		// The connection broke after the service acknowledged the
		// action. Wait for the operation that is already running,
		// rather than submitting the action again.
		e.waitExecutionBackoff = e.executor.waitExecutionBackoffFactory()
		if err := e.executor.retrier.Execute(ctx, e.waitExecutionBackoff, func() error {
			return e.callWithCredentialsRefresh(ctx, e.waitExecution)
		}); err != nil {
			return nil, err
		}
		if e.response != nil {
			return e.response, nil
		}

		// The service no longer knows the operation. Start over
		// by submitting the action anew.
	}
}

// callWithCredentialsRefresh performs a single Execute or
// WaitExecution attempt, refreshing authentication credentials and
// repeating the attempt once if the service rejected them. The
// repetition happens inside the callable handed to the retrier, so
// that it does not consume the outer attempt budget.
func (e *execution) callWithCredentialsRefresh(ctx context.Context, call func(context.Context) error) error {
	err := call(ctx)
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		if refreshErr := e.executor.credentialsRefresher.Refresh(ctx); refreshErr != nil {
			return err
		}
		return call(ctx)
	default:
		return err
	}
}

func (e *execution) newCallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := e.executor.callTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// execute submits the action to the service and consumes the
// resulting operation stream. It must only be called when no
// operation for this execution is known to the service.
func (e *execution) execute(ctx context.Context) error {
	ctxWithCancel, cancel := e.newCallContext(ctx)
	defer cancel()

	stream, err := e.executor.executionClient.Execute(ctxWithCancel, e.request)
	if err == nil {
		var response *remoteexecution.ExecuteResponse
		response, err = e.consumeOperationStream(stream, nil)
		if err == nil {
			e.response = response
			return nil
		}
	}

	var executionStatusError *ExecutionStatusError
	if e.lastOperation != nil && !errors.As(err, &executionStatusError) {
		// The stream broke after the service acknowledged the
		// action. Fall through to WaitExecution, so that the
		// action is not submitted a second time.
		return nil
	}
	return err
}

// waitExecution resumes consumption of the operation stream belonging
// to an action that the service acknowledged previously.
func (e *execution) waitExecution(ctx context.Context) error {
	ctxWithCancel, cancel := e.newCallContext(ctx)
	defer cancel()

	stream, err := e.executor.executionClient.WaitExecution(ctxWithCancel, &remoteexecution.WaitExecutionRequest{
		Name: e.lastOperation.GetName(),
	})
	if err == nil {
		var response *remoteexecution.ExecuteResponse
		response, err = e.consumeOperationStream(stream, e.waitExecutionBackoff)
		if err == nil {
			e.response = response
			return nil
		}
	}

	if status.Code(err) == codes.NotFound {
		// The service lost track of the operation, e.g. due to a
		// scheduler restart. Force a resubmission of the action.
		e.lastOperation = nil
		return nil
	}
	return err
}

// operationStream is the server-streaming side shared by the Execute
// and WaitExecution calls.
type operationStream interface {
	Recv() (*longrunningpb.Operation, error)
}

// consumeOperationStream processes operations reported by the service
// until the stream either yields a terminal ExecuteResponse or breaks.
// If backoffToReset is provided, it is reset for every operation
// received, as any operation proves that the action is still alive.
//
// The stream is always drained completely, as gRPC only releases the
// resources associated with a streaming call once its trailing status
// has been consumed. Transport errors observed while draining are
// redundant with the result that is already being returned.
func (e *execution) consumeOperationStream(stream operationStream, backoffToReset retry.Backoff) (*remoteexecution.ExecuteResponse, error) {
	defer func() {
		for {
			if _, err := stream.Recv(); err != nil {
				return
			}
		}
	}()

	for {
		operation, err := stream.Recv()
		if err == io.EOF {
			// The service closed the stream without reporting
			// a terminal operation, which violates the
			// protocol.
			return nil, &ExecutionStatusError{
				Status: status.New(codes.DataLoss, "Execution terminated without providing a result").Proto(),
			}
		}
		if err != nil {
			return nil, err
		}
		if backoffToReset != nil {
			backoffToReset.Reset()
		}
		response, err := e.interpretOperation(operation)
		if err != nil {
			return nil, err
		}
		e.lastOperation = operation
		if response != nil {
			return response, nil
		}
	}
}

// interpretOperation classifies a single operation as pending, a
// terminal success, or a terminal failure. The observer is notified
// before any classification takes place, including for operations
// that describe a failure.
func (e *execution) interpretOperation(operation *longrunningpb.Operation) (*remoteexecution.ExecuteResponse, error) {
	e.observer.OnOperation(operation)

	if errorStatus := operation.GetError(); errorStatus != nil {
		return nil, &ExecutionStatusError{Status: errorStatus}
	}
	if !operation.GetDone() {
		return nil, nil
	}

	responsePayload := operation.GetResponse()
	if responsePayload == nil {
		return nil, newNoResultError(nil)
	}
	var response remoteexecution.ExecuteResponse
	if err := responsePayload.UnmarshalTo(&response); err != nil {
		return nil, &ExecutionStatusError{
			Status: status.Newf(codes.DataLoss, "Failed to unmarshal execute response: %s", err).Proto(),
		}
	}
	if responseStatus := response.GetStatus(); responseStatus.GetCode() != int32(codes.OK) {
		return nil, &ExecutionStatusError{
			Status:   responseStatus,
			Response: &response,
		}
	}
	if response.GetResult() == nil {
		return nil, newNoResultError(&response)
	}
	return &response, nil
}

func newNoResultError(response *remoteexecution.ExecuteResponse) error {
	return &ExecutionStatusError{
		Status:   status.New(codes.DataLoss, "Operation was marked as done, but did not contain a result").Proto(),
		Response: response,
	}
}

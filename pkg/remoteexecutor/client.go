package remoteexecutor

import (
	"context"
	"io"
	"sync/atomic"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client is the public entry point for running actions remotely. It
// couples a RemoteExecutor to the gRPC connection over which it
// communicates, dropping the reference to the connection when the
// client is no longer needed.
type Client struct {
	executor   RemoteExecutor
	connection io.Closer
	closed     atomic.Bool
}

// NewClient creates a Client that executes actions through the
// provided RemoteExecutor and assumes ownership of the connection.
func NewClient(executor RemoteExecutor, connection io.Closer) *Client {
	return &Client{
		executor:   executor,
		connection: connection,
	}
}

// Execute runs a single action remotely, returning its terminal
// response.
func (c *Client) Execute(ctx context.Context, request *remoteexecution.ExecuteRequest, observer OperationObserver) (*remoteexecution.ExecuteResponse, error) {
	if c.closed.Load() {
		return nil, status.Error(codes.FailedPrecondition, "Client is closed")
	}
	return c.executor.Execute(ctx, request, observer)
}

// Close releases the underlying connection. It may be called
// repeatedly and concurrently; the connection is released exactly
// once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.connection.Close()
}

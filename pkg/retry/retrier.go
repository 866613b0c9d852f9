package retry

import (
	"context"

	"google.golang.org/grpc/codes"
)

// Retrier runs a fallible callable repeatedly, until it either
// succeeds, fails in a way that is not retriable, or the backoff
// policy reports that the attempt budget has been exhausted. In the
// latter two cases the error of the final attempt is returned.
type Retrier interface {
	Execute(ctx context.Context, backoff Backoff, callable func() error) error
}

// DefaultRetriableCodes is the set of gRPC status codes that generally
// correspond to transient infrastructure conditions, making it safe to
// retry the call that yielded them.
var DefaultRetriableCodes = []codes.Code{
	codes.Aborted,
	codes.DeadlineExceeded,
	codes.Internal,
	codes.ResourceExhausted,
	codes.Unavailable,
	codes.Unknown,
}

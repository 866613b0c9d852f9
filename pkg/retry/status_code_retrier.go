package retry

import (
	"context"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type statusCodeRetrier struct {
	clock          clock.Clock
	retriableCodes map[codes.Code]struct{}
}

// NewStatusCodeRetrier creates a Retrier that considers an error
// retriable if it is a gRPC status error carrying one of the provided
// status codes. Errors with other status codes and errors that do not
// correspond to a gRPC status at all propagate immediately, without
// consuming the backoff policy's attempt budget.
func NewStatusCodeRetrier(clock clock.Clock, retriableCodes []codes.Code) Retrier {
	codeSet := make(map[codes.Code]struct{}, len(retriableCodes))
	for _, code := range retriableCodes {
		codeSet[code] = struct{}{}
	}
	return &statusCodeRetrier{
		clock:          clock,
		retriableCodes: codeSet,
	}
}

func (r *statusCodeRetrier) isRetriable(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	_, retriable := r.retriableCodes[s.Code()]
	return retriable
}

func (r *statusCodeRetrier) Execute(ctx context.Context, backoff Backoff, callable func() error) error {
	for {
		err := callable()
		if err == nil || !r.isRetriable(err) {
			return err
		}
		delay, ok := backoff.NextDelay()
		if !ok {
			return err
		}

		timer, timerChannel := r.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return util.StatusFromContext(ctx)
		case <-timerChannel:
		}
	}
}

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/buildbarn/bb-remote-client/pkg/retry"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// zeroBackoff waits no time between attempts, which keeps these tests
// fast while still exercising the full retry loop.
type zeroBackoff struct {
	remainingRetries int
	resets           int
}

func (b *zeroBackoff) NextDelay() (time.Duration, bool) {
	if b.remainingRetries == 0 {
		return 0, false
	}
	b.remainingRetries--
	return 0, true
}

func (b *zeroBackoff) Reset() {
	b.resets++
}

func TestStatusCodeRetrierImmediateSuccess(t *testing.T) {
	retrier := retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes)
	backoff := &zeroBackoff{remainingRetries: 5}

	calls := 0
	require.NoError(t, retrier.Execute(context.Background(), backoff, func() error {
		calls++
		return nil
	}))
	require.Equal(t, 1, calls)
	require.Equal(t, 5, backoff.remainingRetries)
}

func TestStatusCodeRetrierRetriesTransientFailures(t *testing.T) {
	retrier := retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes)
	backoff := &zeroBackoff{remainingRetries: 5}

	calls := 0
	require.NoError(t, retrier.Execute(context.Background(), backoff, func() error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "Server on fire")
		}
		return nil
	}))
	require.Equal(t, 3, calls)
	require.Equal(t, 3, backoff.remainingRetries)
}

func TestStatusCodeRetrierFatalCodePropagates(t *testing.T) {
	retrier := retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes)
	backoff := &zeroBackoff{remainingRetries: 5}

	calls := 0
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.InvalidArgument, "Malformed action digest"),
		retrier.Execute(context.Background(), backoff, func() error {
			calls++
			return status.Error(codes.InvalidArgument, "Malformed action digest")
		}))
	require.Equal(t, 1, calls)
	require.Equal(t, 5, backoff.remainingRetries)
}

func TestStatusCodeRetrierNonStatusErrorPropagates(t *testing.T) {
	retrier := retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes)
	backoff := &zeroBackoff{remainingRetries: 5}

	verdictError := errors.New("the server rendered a verdict on the action")
	calls := 0
	err := retrier.Execute(context.Background(), backoff, func() error {
		calls++
		return verdictError
	})
	require.Same(t, verdictError, err)
	require.Equal(t, 1, calls)
}

func TestStatusCodeRetrierBudgetExhaustion(t *testing.T) {
	retrier := retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes)
	backoff := &zeroBackoff{remainingRetries: 2}

	calls := 0
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.Unavailable, "Server on fire"),
		retrier.Execute(context.Background(), backoff, func() error {
			calls++
			return status.Error(codes.Unavailable, "Server on fire")
		}))
	require.Equal(t, 3, calls)
}

func TestStatusCodeRetrierContextCancellation(t *testing.T) {
	retrier := retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes)
	backoff := &fixedDelayBackoff{delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retrier.Execute(ctx, backoff, func() error {
		return status.Error(codes.Unavailable, "Server on fire")
	})
	require.Equal(t, codes.Canceled, status.Code(err))
}

type fixedDelayBackoff struct {
	delay time.Duration
}

func (b *fixedDelayBackoff) NextDelay() (time.Duration, bool) {
	return b.delay, true
}

func (b *fixedDelayBackoff) Reset() {}

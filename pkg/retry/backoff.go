package retry

import (
	"time"
)

// Backoff determines how long to pause before retrying a failed
// operation, and how often retrying may be attempted.
type Backoff interface {
	// NextDelay returns the amount of time to wait before the next
	// attempt may be made. It returns false if the attempt budget
	// has been exhausted, meaning the operation should not be
	// retried.
	NextDelay() (time.Duration, bool)
	// Reset restores the full attempt budget, to be called when
	// the operation has shown signs of progress.
	Reset()
}

// BackoffFactory creates instances of Backoff. A separate instance is
// needed for every sequence of attempts, as Backoff instances are
// stateful.
type BackoffFactory func() Backoff

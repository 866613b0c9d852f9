package retry

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/random"
)

type exponentialBackoff struct {
	randomNumberGenerator random.ThreadSafeGenerator
	initialDelay          time.Duration
	maximumDelay          time.Duration
	multiplier            float64
	jitter                float64
	maximumRetries        int

	nextDelay time.Duration
	retries   int
}

// NewExponentialBackoffFactory creates a BackoffFactory that yields
// truncated exponential backoff policies: successive delays grow by
// the given multiplier from initialDelay up to maximumDelay, with a
// proportional random jitter applied to each delay. A policy permits
// maximumRetries attempts before reporting exhaustion, restored to the
// full amount by Reset().
func NewExponentialBackoffFactory(randomNumberGenerator random.ThreadSafeGenerator, initialDelay, maximumDelay time.Duration, multiplier, jitter float64, maximumRetries int) BackoffFactory {
	return func() Backoff {
		b := &exponentialBackoff{
			randomNumberGenerator: randomNumberGenerator,
			initialDelay:          initialDelay,
			maximumDelay:          maximumDelay,
			multiplier:            multiplier,
			jitter:                jitter,
			maximumRetries:        maximumRetries,
		}
		b.Reset()
		return b
	}
}

func (b *exponentialBackoff) NextDelay() (time.Duration, bool) {
	if b.retries >= b.maximumRetries {
		return 0, false
	}
	b.retries++

	delay := b.nextDelay
	if next := time.Duration(float64(b.nextDelay) * b.multiplier); next < b.maximumDelay {
		b.nextDelay = next
	} else {
		b.nextDelay = b.maximumDelay
	}

	if b.jitter > 0 {
		delay += time.Duration((b.randomNumberGenerator.Float64()*2 - 1) * b.jitter * float64(delay))
		if delay < 0 {
			delay = 0
		}
	}
	return delay, true
}

func (b *exponentialBackoff) Reset() {
	b.nextDelay = b.initialDelay
	b.retries = 0
}

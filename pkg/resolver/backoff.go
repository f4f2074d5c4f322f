package resolver

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// computeNextRetry returns the delay before attempt (1-indexed) should run:
// base * 2^(attempt-1), capped at max, per spec.md §4.H.3. It drives a
// fresh zero-jitter backoff.ExponentialBackOff per call rather than reusing
// one across attempts, so the sequence stays exactly reproducible for the
// retry-monotonicity property instead of depending on a stateful object's
// call history.
func computeNextRetry(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2.0
	b.RandomizationFactor = 0

	var delay time.Duration
	for i := 1; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > max {
		delay = max
	}
	return delay
}

package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ccos-run/ccos/pkg/ccoserr"
	"github.com/ccos-run/ccos/pkg/mcp/session"
)

// RateLimiter is the acquire-a-token seam withRetry waits on before each
// attempt. *rate.Limiter (in-process, the default) and *RedisRateLimiter
// (shared across processes, see redis_limiter.go) both satisfy it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// retryContext tracks per-server backoff state across retry attempts, kept
// alive for the lifetime of one discovery call — never shared across
// servers, matching spec.md §4.F's "per-server retry context".
type retryContext struct {
	backoff *backoff.ExponentialBackOff
}

func newRetryContext() *retryContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	return &retryContext{backoff: b}
}

// isRetryable classifies an error as retryable per spec.md §4.F: HTTP 429,
// any 5xx, timeouts, and network-layer failures. Client errors (4xx other
// than 429) are terminal.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *session.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	if ccoserr.KindOf(err) == ccoserr.KindNetwork {
		return true
	}
	var netTimeout interface{ Timeout() bool }
	if errors.As(err, &netTimeout) {
		return netTimeout.Timeout()
	}
	return false
}

// withRetry runs op up to policy.MaxAttempts times (default 3), sleeping the
// per-server exponential-with-cap backoff duration between retryable
// failures, re-acquiring the rate-limit token before each attempt. The first
// non-retryable error, or exhausting attempts, ends the loop.
func withRetry(ctx context.Context, limiter RateLimiter, policy RetryPolicy, op func() error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	rc := newRetryContext()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return ccoserr.Wrap(ccoserr.KindNetwork, "discovery: rate limiter wait", err)
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := rc.backoff.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

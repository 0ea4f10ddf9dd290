// Package retry wraps a fallible operation with exponential backoff, for use
// by the STT/LLM/TTS provider adapters. Grounded on the retry loop the
// reference Python STT provider (groq_whisper.py) applies around its
// transcription call, generalised to all three adapter kinds per
// pkg/provider/retry's callers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures the retry behaviour. The zero value is not usable;
// construct with DefaultPolicy and override fields as needed.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the initial backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Jitter is the fraction of the computed delay (0.0-1.0) applied as
	// random jitter.
	Jitter float64

	// Retryable reports whether err should trigger another attempt. The
	// default implementation matches on transient transport error
	// substrings (connection, timeout, disconnected, pool).
	Retryable func(err error) bool
}

// DefaultPolicy returns the standard adapter retry policy: exponential
// backoff from 1s up to 30s with 50% jitter, three attempts, retrying only
// transient transport failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.5,
		Retryable:   isTransientTransportError,
	}
}

// isTransientTransportError matches the teacher's transient-failure
// substrings — connection resets, timeouts, disconnects, and exhausted
// connection pools are worth a retry; everything else (auth failures,
// malformed requests, policy denials) is not.
func isTransientTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"connection", "timeout", "disconnected", "pool"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// Do runs op, retrying according to p until it succeeds, a non-retryable
// error is returned, MaxAttempts is exhausted, or ctx is cancelled.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = isTransientTransportError
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = p.Jitter

	wrapped := func() (T, error) {
		result, err := op(ctx)
		if err != nil && !retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	result, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	if err != nil && ctx.Err() == nil && retryable(err) {
		return result, fmt.Errorf("%w: %w", ErrExhausted, err)
	}
	return result, err
}

// ErrExhausted wraps the final error when every retry attempt failed, so
// callers can distinguish "gave up after retrying" from a non-retryable
// first-attempt failure.
var ErrExhausted = errors.New("retry: attempts exhausted")

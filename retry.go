package strata

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/strata-db/strata/sterr"
)

// uniformJitterBackOff implements backoff.BackOff with spec §4.8's
// literal policy: "sleep a uniform random delay in [500ms, 5000ms)"
// between attempts, for exactly maxAttempts-1 intervals. The teacher's
// retry.go drives cenkalti/backoff/v4 with its built-in exponential
// policy; that would violate the flat, non-increasing delay distribution
// spec calls for, so this type satisfies the same BackOff interface with
// the spec's exact bounds instead (see DESIGN.md).
type uniformJitterBackOff struct {
	min, max    time.Duration
	attempts    int
	maxAttempts int
}

func newUniformJitterBackOff(maxAttempts int) *uniformJitterBackOff {
	return &uniformJitterBackOff{min: 500 * time.Millisecond, max: 5000 * time.Millisecond, maxAttempts: maxAttempts}
}

func (b *uniformJitterBackOff) NextBackOff() time.Duration {
	b.attempts++
	if b.attempts >= b.maxAttempts {
		return backoff.Stop
	}
	span := int64(b.max - b.min)
	return b.min + time.Duration(rand.Int63n(span))
}

func (b *uniformJitterBackOff) Reset() { b.attempts = 0 }

// isRetryableFailure reports whether err should be retried by the
// connection manager's execute loop (spec §4.8): write-lock-timeout and
// engine busy/locked. Spec's third clause, "index-out-of-range
// (defensive)", guards a CLR-only failure mode (an exception thrown by
// the bindings layer on a malformed parameter index); this façade has no
// equivalent recoverable panic, so it is not modeled here — see
// DESIGN.md.
func isRetryableFailure(err error) bool {
	if sterr.IsRetryable(err) {
		return true
	}
	var e *sterr.Error
	return errors.As(err, &e) && e.Kind == sterr.KindWriteLockTimeout
}

// retryExecute runs action up to attempts times (spec §4.8
// "execute(action, retries=10)"), sleeping a uniform jittered delay
// between attempts, returning *retry-exhausted* wrapping the last cause
// once attempts are used up.
func retryExecute(ctx context.Context, attempts int, action func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	bo := backoff.WithContext(newUniformJitterBackOff(attempts), ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = action()
		if lastErr == nil {
			return nil
		}
		if !isRetryableFailure(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, bo)

	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return sterr.Wrap(sterr.KindRetryExhausted, "", lastErr)
}

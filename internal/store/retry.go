// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ManuGH/lowroll/internal/metrics"
)

// RetryPolicy bounds the jittered exponential backoff applied to transient
// store failures.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// DefaultRetry is the policy used by internal writers.
var DefaultRetry = RetryPolicy{Attempts: 4, Base: 50 * time.Millisecond, Cap: 2 * time.Second}

// WithRetry runs fn, retrying on ErrTransient with full-jitter backoff. The
// last error is returned when attempts are exhausted or ctx ends.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy = DefaultRetry
	}
	var err error
	backoff := policy.Base
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
		if attempt == policy.Attempts-1 {
			break
		}
		metrics.IncStoreRetry()
		sleep := time.Duration(rand.Int63n(int64(backoff) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > policy.Cap {
			backoff = policy.Cap
		}
	}
	return err
}

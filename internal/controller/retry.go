package controller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxRetries bounds the number of attempts WithRetry makes for a single
// call, including the first one.
const MaxRetries = 5

// Classifier tells WithRetry whether a failure should be retried. Callers
// pass google.Classify (wrapped) or an equivalent for their own error types.
type Classifier func(err error) (retryable bool)

// WithRetry runs fn up to MaxRetries times. Delay between attempts follows
// 1s * 2^i * U(0.5, 1.5), implemented via backoff.ExponentialBackOff with
// InitialInterval=1s, Multiplier=2.0, RandomizationFactor=0.5 — which
// produces exactly current*[0.5,1.5]. A non-retryable error (per classify)
// stops the loop immediately via backoff.Permanent.
func WithRetry(ctx context.Context, classify Classifier, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !classify(err) {
			return backoff.Permanent(err)
		}
		if attempts >= MaxRetries {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

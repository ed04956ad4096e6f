// Package retry runs calls against flaky collaborators with bounded,
// exponentially growing waits.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
)

// Policy bounds a retried call. Attempts counts the first call.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Do calls op until it succeeds, returns an error that is not transient, the
// attempts run out, or ctx is done. Exhausting the attempts on a transient
// error is reported as a fatal error.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		eb.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	result, err := backoff.RetryWithData(func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !apperror.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
	if err != nil && apperror.IsTransient(err) {
		return result, apperror.Fatal(op, err)
	}
	return result, err
}

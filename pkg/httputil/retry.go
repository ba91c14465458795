package httputil

import (
	"context"
	"time"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// Retry executes fn up to attempts times with exponential backoff.
// Only errors carrying [errs.ErrCodeTransient] are retried; any other error
// is returned immediately. The delay doubles after each failed attempt and
// there is no wait after the last one. When every attempt fails the result
// is a RETRY_EXHAUSTED error wrapping the last failure, or ctx.Err() if the
// context is cancelled while waiting.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	return retry(ctx, attempts, delay, sleep, func(int) error { return fn() }, nil)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func retry(ctx context.Context, attempts int, delay time.Duration, wait sleepFunc, fn func(attempt int) error, onRetry func(attempt int, d time.Duration, err error)) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		err := fn(i)
		if err == nil {
			return nil
		}
		if !errs.Is(err, errs.ErrCodeTransient) {
			return err
		}
		lastErr = err

		if i < attempts-1 {
			d := delay << i
			if onRetry != nil {
				onRetry(i, d, err)
			}
			if err := wait(ctx, d); err != nil {
				return err
			}
		}
	}
	return errs.RetryExhausted(attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

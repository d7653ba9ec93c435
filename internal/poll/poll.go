// Package poll runs a function at a fixed interval with retry-once semantics:
// a failure is retried immediately exactly once, after which the loop falls
// back to the normal interval. A success re-arms the immediate retry.
package poll

import (
	"context"
	"errors"
	"time"
)

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop wraps err so that Run returns it instead of retrying.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Run calls fn until ctx is done or fn returns an error wrapped with Stop.
// The returned error is the unwrapped stop error or ctx.Err().
func Run(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	retryAllowed := true
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		err := fn(ctx)
		var stop *stopError
		switch {
		case err == nil:
			retryAllowed = true
		case errors.As(err, &stop):
			return stop.err
		case retryAllowed:
			retryAllowed = false
			timer.Reset(0)
			continue
		}
		timer.Reset(interval)
	}
}

package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// DialFunc opens a fresh connection.
type DialFunc func(ctx context.Context) (*Client, error)

// SessionFunc drives one connection. Returning nil ends supervision; an error
// wrapping ErrTransportFailure triggers a reconnect; any other error is
// returned as is.
type SessionFunc func(ctx context.Context, c *Client) error

// Reconnector redials with bounded exponential backoff after transport
// failures. The plain Client never reconnects on its own.
type Reconnector struct {
	Dial            DialFunc
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Log             *zap.Logger
}

func (r *Reconnector) Run(ctx context.Context, session SessionFunc) error {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	for {
		client, err := backoff.Retry(ctx, func() (*Client, error) {
			return r.Dial(ctx)
		}, r.retryOptions(log)...)
		if err != nil {
			return err
		}

		err = session(ctx, client)
		_ = client.Close()

		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !errors.Is(err, ErrTransportFailure):
			return err
		}
		log.Info("group activity connection dropped, reconnecting", zap.Error(err))
	}
}

func (r *Reconnector) retryOptions(log *zap.Logger) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", next))
		}),
	}
	if r.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(r.MaxTries))
	}
	return opts
}

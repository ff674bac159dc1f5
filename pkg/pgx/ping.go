package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPingTimeout bounds WaitReady when no timeout is given.
const DefaultPingTimeout = 30 * time.Second

// WaitReady calls ping with exponential backoff until it succeeds, ctx is
// done or maxElapsed passes. It serves pgxpool.Pool.Ping as well as
// sql.DB.PingContext.
func WaitReady(ctx context.Context, ping func(context.Context) error, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed
	if maxElapsed <= 0 {
		b.MaxElapsedTime = DefaultPingTimeout
	}

	if err := backoff.Retry(func() error { return ping(ctx) }, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

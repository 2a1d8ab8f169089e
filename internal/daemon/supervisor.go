package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrStop, when returned by a supervised function, ends the restart loop
// without it being treated as a crash to recover from.
var ErrStop = errors.New("daemon: stop requested")

// Supervise runs fn repeatedly, restarting it after backoff-governed
// delays whenever it returns an error other than ErrStop while ctx is not
// yet cancelled. It returns nil once fn returns nil or ErrStop, and
// ctx.Err() once ctx is done.
func Supervise(ctx context.Context, logger *slog.Logger, restartInterval time.Duration, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = restartInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = 5 * time.Second
	}

	for {
		err := fn(ctx)
		if err == nil || errors.Is(err, ErrStop) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		if logger != nil {
			logger.Error("supervised process exited, restarting", "error", err, "delay", delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

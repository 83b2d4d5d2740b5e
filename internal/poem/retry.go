package poem

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry runs an operation up to Attempts times, sleeping Delay before the
// second attempt and doubling it each time after.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// backoff builds a fresh exponential schedule for one Do call.
func (r Retry) backoff(attempts int) retry.Backoff {
	// A zero base would make the schedule report an overflow.
	base := max(r.Delay, time.Nanosecond)
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx ends. It returns the last error.
func (r Retry) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	attempts := max(r.Attempts, 1)

	var (
		last    error
		attempt int
	)
	err := retry.Do(ctx, r.backoff(attempts), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if errors.Is(err, ErrNoAPIKey) {
			return err
		}
		if attempt < attempts {
			slog.Warn("poem: request failed, retrying",
				"service", name, "attempt", attempt, "of", attempts, "error", err)
		}
		return retry.RetryableError(err)
	})

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && last != nil {
		return errors.Join(last, err)
	}
	return err
}

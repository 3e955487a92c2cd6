package pipeline

import (
	"context"
	"time"
)

// retry calls fn until it succeeds, attempts are exhausted or ctx is done.
// The wait doubles after every failure, capped at MaxBackoff.
func retry(ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error, wait time.Duration), fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.Backoff

	var err error
	for i := 1; i <= attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if onRetry != nil {
			onRetry(i, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return err
}

package util

import (
	"context"
	"time"
)

// RetryFixed calls fn until it returns nil, waiting delay between failed
// calls. maxAttempts <= 0 retries without bound. onFailure, if non-nil, is
// invoked after each failed call with the 1-based attempt number and the
// error, before the wait. The wait is abandoned as soon as ctx is cancelled,
// in which case ctx.Err() is returned. When the attempts run out, the last
// error from fn is returned.
func RetryFixed(ctx context.Context, maxAttempts int, delay time.Duration, fn func(attempt int) error, onFailure func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}

		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

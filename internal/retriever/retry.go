package retriever

import (
	"context"
	"time"
)

// withRetry runs fn up to attempts times with a fixed backoff between
// attempts. Retries stop early when the context is done.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
	}

	return err
}

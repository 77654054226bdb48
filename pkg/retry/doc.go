// Package retry runs store operations with bounded attempts and
// exponential backoff.
//
// Waits go through a quartz.Clock so tests can drive them with a mock
// clock. Store and timeout errors from pkg/errors are retried,
// validation and config errors are not, and caller cancellation always
// stops the loop.
//
//	records, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]engagement.Record, error) {
//		return store.FindRecentEngagements(ctx, since)
//	}, &retry.Config{
//		Name:        "hydrate",
//		MaxAttempts: 3,
//		Backoff:     retry.DefaultExponentialBackoff(),
//		Clock:       clock,
//		Logger:      log,
//	})
package retry

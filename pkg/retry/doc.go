// Package retry provides exponential backoff with jitter.
//
// Do runs a bounded or unbounded sequence of attempts:
//
//	err := retry.Do(ctx, retry.Reconnect(), func() error {
//	    return client.connect(ctx)
//	})
//
// Backoff exposes the delay sequence directly for loops that manage their own
// attempts, such as a read loop that resets the sequence after a healthy
// session.
package retry

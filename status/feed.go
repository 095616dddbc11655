package status

import "context"

// Feed is an upstream source of status messages. Listen connects, delivers
// each message to the callback registered for its category and blocks until
// ctx is cancelled. An error is returned when the initial connection cannot
// be established; after that the feed owns reconnection and only returns
// when ctx is done.
//
// Messages of one category are delivered in arrival order, one at a time.
type Feed interface {
	Listen(ctx context.Context, callbacks map[Category]Callback) error
}

// Package natsclient carries Assemblyline status messages over NATS as an
// alternative to the Socket.IO status namespace.
//
// Client wraps nats.go with a circuit breaker around connect attempts,
// connection status tracking and drain on close. Once a connection has been
// established, reconnects are left to nats.go.
//
// Feed implements status.Feed. Each category is published on its own
// subject, "{prefix}.{category}", with the same JSON body the status
// namespace would emit:
//
//	feed, err := natsclient.NewFeed(natsclient.FeedConfig{
//	    URL:           "nats://localhost:4222",
//	    SubjectPrefix: "assemblyline.status",
//	})
//	if err != nil {
//	    return err
//	}
//	return feed.Listen(ctx, router.Callbacks())
//
// Setting FeedConfig.Stream consumes the subjects from an existing JetStream
// stream instead. The consumer starts at the last message per subject, so a
// restarted exporter reports current state without waiting for the next
// heartbeat.
package natsclient

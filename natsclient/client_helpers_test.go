package natsclient

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// Publishing and inspection helpers. The exporter only consumes, so these
// live with the tests that feed and observe a Client.

// Stats is a point-in-time view of a Client.
type Stats struct {
	Status       ConnectionStatus
	Failures     int
	LastFailure  time.Time
	NextCooldown time.Duration
	RTT          time.Duration
}

// URL returns the server URL the client dials.
func (c *Client) URL() string {
	return c.url
}

// Connected reports whether the connection is up.
func (c *Client) Connected() bool {
	return c.Status() == StatusConnected
}

// Stats returns failure counters and, when connected, the current RTT.
func (c *Client) Stats() Stats {
	failures, last, cooldown := c.breaker.stats()
	st := Stats{
		Status:       c.Status(),
		Failures:     failures,
		LastFailure:  last,
		NextCooldown: cooldown,
	}
	if rtt, err := c.RTT(); err == nil {
		st.RTT = rtt
	}
	return st
}

// RTT measures a round trip to the server.
func (c *Client) RTT() (time.Duration, error) {
	conn, err := c.connection()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Publish sends data on a core subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// CreateStream creates the stream or updates it to match cfg.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.jetStream("CreateStream")
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// PublishToStream publishes on a stream subject and waits for the server ack.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.jetStream("PublishToStream")
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish to "+subject)
	}
	return nil
}

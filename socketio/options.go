package socketio

import (
	"log/slog"
	"time"

	"github.com/kryptoslogic/assemblyline-exporter/metric"
	"github.com/kryptoslogic/assemblyline-exporter/pkg/retry"
)

// ConnectionObserver is told when the upstream session goes up or down
type ConnectionObserver interface {
	SetConnected(feed string)
	SetDisconnected(feed string, err error)
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification, for
// deployments with self-signed certificates.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) error {
		c.tls.InsecureSkipVerify = skip
		return nil
	}
}

// WithCAFiles trusts additional CA certificates, in PEM files, for the
// Assemblyline server.
func WithCAFiles(files ...string) ClientOption {
	return func(c *Client) error {
		for _, f := range files {
			if f != "" {
				c.tls.CAFiles = append(c.tls.CAFiles, f)
			}
		}
		return nil
	}
}

// WithHandshakeTimeout bounds login, the WebSocket upgrade and the
// namespace handshake.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.handshakeTimeout = d
		}
		return nil
	}
}

// WithStartupPolicy sets the retry policy for the first connection
func WithStartupPolicy(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.startup = cfg
		return nil
	}
}

// WithReconnectPolicy sets the backoff used after an established session drops
func WithReconnectPolicy(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.reconnect = cfg
		return nil
	}
}

// WithMetrics records connection state and reconnects
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithConnectionObserver reports session state changes to obs
func WithConnectionObserver(obs ConnectionObserver) ClientOption {
	return func(c *Client) error {
		c.observer = obs
		return nil
	}
}

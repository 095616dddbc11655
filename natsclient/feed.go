package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/metric"
	"github.com/kryptoslogic/assemblyline-exporter/status"
)

// FeedName labels connection metrics and health entries for this transport.
const FeedName = "nats"

// DefaultSubjectPrefix is prepended to each category name.
const DefaultSubjectPrefix = "assemblyline.status"

const closeTimeout = 5 * time.Second

// FeedConfig selects the server and subjects a Feed listens on.
type FeedConfig struct {
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
	// Stream switches from core subscriptions to JetStream consumers.
	Stream string `json:"stream" yaml:"stream"`
	Name   string `json:"name" yaml:"name"`
}

// ConnectionObserver is told when the feed gains or loses its server.
type ConnectionObserver interface {
	SetConnected(feed string)
	SetDisconnected(feed string, err error)
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedLogger sets the logger used by the feed and its client.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFeedMetrics records connection state and reconnects.
func WithFeedMetrics(m *metric.Metrics) FeedOption {
	return func(f *Feed) {
		f.metrics = m
	}
}

// WithFeedObserver reports connection changes to o.
func WithFeedObserver(o ConnectionObserver) FeedOption {
	return func(f *Feed) {
		f.observer = o
	}
}

// WithClientOptions passes extra options through to the NATS client.
func WithClientOptions(opts ...ClientOption) FeedOption {
	return func(f *Feed) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// Feed delivers status messages published on NATS to router callbacks. It
// carries the same JSON bodies as the Socket.IO events, one subject per
// category.
type Feed struct {
	cfg        FeedConfig
	client     *Client
	logger     *slog.Logger
	metrics    *metric.Metrics
	observer   ConnectionObserver
	clientOpts []ClientOption

	// lost is closed once nats.go stops reconnecting.
	lost     chan struct{}
	lostOnce sync.Once
}

// NewFeed validates cfg and builds the underlying client. It does not
// connect.
func NewFeed(cfg FeedConfig, opts ...FeedOption) (*Feed, error) {
	if cfg.URL == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Feed", "NewFeed", "nats url")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Name == "" {
		cfg.Name = "assemblyline-exporter"
	}

	f := &Feed{cfg: cfg, logger: slog.Default(), lost: make(chan struct{})}
	for _, opt := range opts {
		opt(f)
	}

	clientOpts := []ClientOption{
		WithLogger(f.logger),
		WithName(cfg.Name),
		WithMaxReconnects(-1),
		WithDisconnectCallback(func(err error) {
			f.setDisconnected(err)
		}),
		WithReconnectCallback(func() {
			if f.metrics != nil {
				f.metrics.RecordUpstreamReconnect(FeedName)
			}
			f.setConnected()
		}),
		WithClosedCallback(f.connectionClosed),
	}
	clientOpts = append(clientOpts, f.clientOpts...)

	client, err := NewClient(cfg.URL, clientOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Feed", "NewFeed", "create nats client")
	}
	f.client = client
	return f, nil
}

// Client exposes the underlying connection manager.
func (f *Feed) Client() *Client {
	return f.client
}

// Subject returns the subject carrying messages of category c.
func (f *Feed) Subject(c status.Category) string {
	return f.cfg.SubjectPrefix + "." + c.String()
}

// Listen connects, subscribes every callback and blocks until ctx is done.
// Reconnects are handled by nats.go; a failed initial connect or subscribe is
// fatal, and so is a connection nats.go has given up on.
func (f *Feed) Listen(ctx context.Context, callbacks map[status.Category]status.Callback) error {
	if err := f.client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		f.setDisconnected(err)
		return errors.WrapFatal(err, "Feed", "Listen", "connect to nats")
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := f.client.Close(closeCtx); err != nil {
			f.logger.Warn("NATS close failed", "error", err)
		}
	}()

	for _, category := range status.All() {
		cb, ok := callbacks[category]
		if !ok {
			continue
		}
		if err := f.subscribe(ctx, category, cb); err != nil {
			f.setDisconnected(err)
			return errors.WrapFatal(err, "Feed", "Listen",
				fmt.Sprintf("subscribe %s", category))
		}
	}

	if err := f.client.Flush(); err != nil {
		f.setDisconnected(err)
		return errors.WrapFatal(err, "Feed", "Listen", "flush subscriptions")
	}

	f.setConnected()
	f.logger.Info("Listening for status messages",
		"url", f.cfg.URL,
		"prefix", f.cfg.SubjectPrefix,
		"stream", f.cfg.Stream)

	return f.wait(ctx)
}

func (f *Feed) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		f.setDisconnected(nil)
		return nil
	case <-f.lost:
		f.setDisconnected(errors.ErrConnectionLost)
		return errors.WrapFatal(errors.ErrConnectionLost, "Feed", "Listen", "connection closed")
	}
}

func (f *Feed) connectionClosed() {
	f.lostOnce.Do(func() { close(f.lost) })
}

func (f *Feed) subscribe(ctx context.Context, category status.Category, cb status.Callback) error {
	subject := f.Subject(category)
	if f.cfg.Stream != "" {
		return f.client.ConsumeStream(ctx, f.cfg.Stream, subject, cb)
	}
	return f.client.Subscribe(ctx, subject, cb)
}

func (f *Feed) setConnected() {
	if f.metrics != nil {
		f.metrics.RecordUpstreamStatus(FeedName, true)
	}
	if f.observer != nil {
		f.observer.SetConnected(FeedName)
	}
}

func (f *Feed) setDisconnected(err error) {
	if f.metrics != nil {
		f.metrics.RecordUpstreamStatus(FeedName, false)
	}
	if f.observer != nil {
		f.observer.SetDisconnected(FeedName, err)
	}
}

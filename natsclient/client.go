package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// ConnectionStatus is the client's view of its server connection.
type ConnectionStatus int32

// Connection states
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Errors returned by Client
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// Client owns one NATS connection. Connect attempts go through a circuit
// breaker; once connected, nats.go reconnects on its own and the client
// only tracks state.
type Client struct {
	url     string
	cfg     settings
	logger  *slog.Logger
	breaker *breaker

	state  atomic.Int32
	closed atomic.Bool

	mu        sync.RWMutex
	conn      *nats.Conn
	js        jetstream.JetStream
	subs      []*nats.Subscription
	consumers map[string]jetstream.ConsumeContext
}

// NewClient applies opts and returns a disconnected client.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	return &Client{
		url:     url,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "nats"),
		breaker: newBreaker(cfg.breakerThreshold, cfg.breakerMax),
	}, nil
}

// Status reports the connection state, including an open breaker.
func (c *Client) Status() ConnectionStatus {
	s := ConnectionStatus(c.state.Load())
	if s == StatusDisconnected && c.breaker.open() {
		return StatusCircuitOpen
	}
	return s
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.state.Store(int32(s))
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.maxReconnects),
		nats.ReconnectWait(c.cfg.reconnectWait),
		nats.PingInterval(c.cfg.pingInterval),
		nats.Timeout(c.cfg.timeout),
		nats.DrainTimeout(c.cfg.drainTimeout),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onClosed),
		nats.ErrorHandler(c.onAsyncError),
	}
	if c.cfg.name != "" {
		opts = append(opts, nats.Name(c.cfg.name))
	}
	if c.cfg.username != "" {
		opts = append(opts, nats.UserInfo(c.cfg.username, c.cfg.password))
	}
	if c.cfg.token != "" {
		opts = append(opts, nats.Token(c.cfg.token))
	}
	if c.cfg.certFile != "" {
		opts = append(opts, nats.ClientCert(c.cfg.certFile, c.cfg.keyFile))
	}
	if c.cfg.caFile != "" {
		opts = append(opts, nats.RootCAs(c.cfg.caFile))
	}
	return opts
}

type dialResult struct {
	conn *nats.Conn
	err  error
}

// Connect dials the server. Failures are transient and count towards the
// breaker; while it is open Connect fails without dialing.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Connect", "check client state")
	}
	if !c.breaker.allow() {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check breaker")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.natsOptions()...)
		dialed <- dialResult{conn: conn, err: err}
	}()

	var res dialResult
	select {
	case res = <-dialed:
	case <-ctx.Done():
		c.connectFailed()
		// A dial that completes after cancellation must not leak.
		go func() {
			if late := <-dialed; late.conn != nil {
				late.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "dial cancelled")
	}
	if res.err != nil {
		c.connectFailed()
		return errors.WrapTransient(res.err, "Client", "Connect", "dial server")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		c.logger.Warn("JetStream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.mu.Unlock()

	c.breaker.success()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", res.conn.ConnectedUrlRedacted())
	return nil
}

func (c *Client) connectFailed() {
	if c.breaker.failure() {
		_, _, cooldown := c.breaker.stats()
		c.logger.Warn("Circuit breaker opened", "next_cooldown", cooldown)
	}
	c.setStatus(StatusDisconnected)
}

// Close stops consumers, drains the connection and forgets credentials.
// Calling it again is a no-op.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, cc := range c.consumers {
		cc.Stop()
		c.logger.Debug("Stopped consumer", "consumer", key)
	}
	c.consumers = nil

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drain(ctx, c.conn); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.cfg.username, c.cfg.password, c.cfg.token = "", "", ""
	c.setStatus(StatusClosed)
	return errors.Join(errs...)
}

// drain waits for conn.Drain up to the drain timeout or ctx, whichever is
// sooner.
func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	timer := time.NewTimer(c.cfg.drainTimeout)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-timer.C:
		return errors.WrapTransient(
			fmt.Errorf("drain still running after %v", c.cfg.drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

// connection returns the live connection or ErrNotConnected.
func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Subscribe delivers each message on subject to handler. nats.go calls the
// handler serially per subscription, so messages on one subject arrive in
// order.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe to "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Flush returns once the server has processed everything sent so far,
// subscriptions included.
func (c *Client) Flush() error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if err := conn.FlushTimeout(c.cfg.timeout); err != nil {
		return errors.WrapTransient(err, "Client", "Flush", "flush connection")
	}
	return nil
}

func (c *Client) jetStream(method string) (jetstream.JetStream, error) {
	if c.closed.Load() {
		return nil, errors.WrapInvalid(ErrClosed, "Client", method, "check client state")
	}
	if _, err := c.connection(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, errors.WrapTransient(
			stderrors.New("JetStream not available"), "Client", method, "get JetStream context")
	}
	return js, nil
}

// ConsumeStream delivers subject's messages from stream to handler one at a
// time. The consumer is ephemeral and starts with the last message on the
// subject, so a restarted exporter sees current values at once.
func (c *Client) ConsumeStream(
	ctx context.Context, stream, subject string, handler func(context.Context, []byte),
) error {
	js, err := c.jetStream("ConsumeStream")
	if err != nil {
		return err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		DeliverPolicy:     jetstream.DeliverLastPerSubjectPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "ConsumeStream",
			fmt.Sprintf("create consumer on %s for %s", stream, subject))
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(ctx, msg.Data())
		if err := msg.Ack(); err != nil {
			c.logger.Debug("Ack failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "ConsumeStream", "consume "+subject)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		cc.Stop()
		return errors.WrapInvalid(ErrClosed, "Client", "ConsumeStream", "register consumer")
	}
	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := stream + "/" + subject
	if prev, ok := c.consumers[key]; ok {
		prev.Stop()
	}
	c.consumers[key] = cc
	return nil
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
	if c.cfg.onDisconnect != nil {
		go c.cfg.onDisconnect(err)
	}
}

func (c *Client) onReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.logger.Info("Reconnected to NATS", "url", conn.ConnectedUrlRedacted())
	if c.cfg.onReconnect != nil {
		go c.cfg.onReconnect()
	}
}

// onClosed fires when nats.go gives up reconnecting or after Close.
func (c *Client) onClosed(_ *nats.Conn) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusDisconnected)
	c.logger.Error("NATS connection closed")
	if c.cfg.onDisconnect != nil {
		go c.cfg.onDisconnect(nats.ErrConnectionClosed)
	}
	if c.cfg.onClosed != nil {
		go c.cfg.onClosed()
	}
}

func (c *Client) onAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}

package socketio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/metric"
	"github.com/kryptoslogic/assemblyline-exporter/pkg/retry"
	"github.com/kryptoslogic/assemblyline-exporter/pkg/tlsutil"
	"github.com/kryptoslogic/assemblyline-exporter/status"
)

// FeedName identifies this transport in logs, metrics and health
const FeedName = "socketio"

const (
	loginPath        = "/api/v4/auth/login/"
	socketPath       = "/socket.io/"
	xsrfCookie       = "XSRF-TOKEN"
	xsrfHeader       = "X-XSRF-TOKEN"
	defaultHandshake = 30 * time.Second
	defaultReadLimit = 45 * time.Second
)

// Client subscribes to the Assemblyline status namespace. It implements
// status.Feed.
type Client struct {
	baseURL  *url.URL
	username string
	apikey   string

	tls              tlsutil.ClientConfig
	handshakeTimeout time.Duration
	startup          retry.Config
	reconnect        retry.Config

	logger   *slog.Logger
	metrics  *metric.Metrics
	observer ConnectionObserver

	jar        http.CookieJar
	httpClient *http.Client
	dialer     *websocket.Dialer
}

var _ status.Feed = (*Client)(nil)

// NewClient creates a client for the Assemblyline instance at host. A host
// without a scheme is reached over https.
func NewClient(host, username, apikey string, opts ...ClientOption) (*Client, error) {
	if host == "" || username == "" || apikey == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "SocketIO", "NewClient",
			"host, username and API key are required")
	}

	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"SocketIO", "NewClient", "parse host")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: unsupported scheme %q", errors.ErrInvalidConfig, base.Scheme),
			"SocketIO", "NewClient", "parse host")
	}

	c := &Client{
		baseURL:          base,
		username:         username,
		apikey:           apikey,
		handshakeTimeout: defaultHandshake,
		startup:          retry.Startup(),
		reconnect:        retry.Reconnect(),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", FeedName)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "SocketIO", "NewClient", "create cookie jar")
	}
	c.jar = jar

	tlsConfig, err := tlsutil.LoadClientTLSConfig(c.tls)
	if err != nil {
		return nil, err
	}
	c.httpClient = &http.Client{
		Timeout: c.handshakeTimeout,
		Jar:     jar,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		},
	}
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: c.handshakeTimeout,
		Jar:              jar,
	}

	return c, nil
}

// Listen logs in, joins the status namespace and delivers heartbeats to
// callbacks until ctx is cancelled. The first connection is retried
// according to the startup policy and its failure is returned. Later
// disconnects are retried indefinitely.
func (c *Client) Listen(ctx context.Context, callbacks map[status.Category]status.Callback) error {
	var sess *session
	err := retry.Do(ctx, c.startup, func() error {
		s, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("Upstream connection attempt failed", "error", err)
			if errors.IsFatal(err) {
				return retry.NonRetryable(err)
			}
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.setDisconnected(err)
		return errors.WrapFatal(err, "SocketIO", "Listen", "initial upstream connection")
	}

	backoff, err := retry.NewBackoff(c.reconnect)
	if err != nil {
		sess.close()
		return errors.WrapFatal(err, "SocketIO", "Listen", "reconnect policy")
	}

	for {
		err := c.serve(ctx, sess, callbacks)
		if ctx.Err() != nil {
			c.setDisconnected(ctx.Err())
			c.logger.Info("Upstream feed stopped")
			return nil
		}

		c.setDisconnected(err)
		c.logger.Warn("Upstream connection lost, reconnecting", "error", err)

		for {
			if err := retry.Sleep(ctx, backoff.Next()); err != nil {
				return nil
			}
			sess, err = c.connect(ctx)
			if err == nil {
				break
			}
			if errors.IsFatal(err) {
				c.logger.Error("Upstream reconnect rejected", "error", err)
			} else {
				c.logger.Warn("Upstream reconnect failed", "error", err)
			}
		}

		backoff.Reset()
		if c.metrics != nil {
			c.metrics.RecordUpstreamReconnect(FeedName)
		}
		c.logger.Info("Reconnected to upstream", "host", c.baseURL.Host)
	}
}

// session is one WebSocket connection joined to the status namespace
type session struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
}

func (s *session) write(frame string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// close sends a close frame and releases the connection. Safe to call from
// any goroutine.
func (s *session) close() {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// connect runs login, upgrade and namespace handshake
func (c *Client) connect(ctx context.Context) (*session, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	sess := &session{conn: conn, readTimeout: defaultReadLimit}
	if err := c.handshake(sess); err != nil {
		sess.close()
		return nil, err
	}

	c.setConnected()
	c.logger.Info("Connected to upstream status feed",
		"host", c.baseURL.Host,
		"namespace", StatusNamespace,
		"read_timeout", sess.readTimeout)
	return sess, nil
}

func (c *Client) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"user": c.username, "apikey": c.apikey})
	if err != nil {
		return errors.WrapFatal(err, "SocketIO", "login", "marshal credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(loginPath), bytes.NewReader(body))
	if err != nil {
		return errors.WrapFatal(err, "SocketIO", "login", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "SocketIO", "login", "POST login")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.WrapFatal(
			fmt.Errorf("%w: HTTP %d for user %q", errors.ErrLoginFailed, resp.StatusCode, c.username),
			"SocketIO", "login", "authenticate")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errors.WrapTransient(
			fmt.Errorf("%w: login returned HTTP %d", errors.ErrNoConnection, resp.StatusCode),
			"SocketIO", "login", "authenticate")
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if token := c.xsrfToken(); token != "" {
		header.Set(xsrfHeader, token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.socketURL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: upgrade returned HTTP %d", errors.ErrHandshakeFailed, resp.StatusCode),
				"SocketIO", "dial", "open websocket")
		}
		return nil, errors.WrapTransient(err, "SocketIO", "dial", "open websocket")
	}
	return conn, nil
}

// handshake reads the Engine.IO open packet, joins the status namespace and
// asks the server to start streaming.
func (c *Client) handshake(sess *session) error {
	_ = sess.conn.SetReadDeadline(time.Now().Add(c.handshakeTimeout))

	_, frame, err := sess.conn.ReadMessage()
	if err != nil {
		return errors.WrapTransient(err, "SocketIO", "handshake", "read open packet")
	}
	if len(frame) == 0 || frame[0] != engineOpen {
		return errors.WrapTransient(
			fmt.Errorf("%w: expected open packet, got %q", errors.ErrHandshakeFailed, truncate(frame)),
			"SocketIO", "handshake", "read open packet")
	}

	var open openPayload
	if err := json.Unmarshal(frame[1:], &open); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrHandshakeFailed, err),
			"SocketIO", "handshake", "decode open packet")
	}
	if open.PingInterval > 0 {
		sess.readTimeout = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	}

	join := packet{Type: packetConnect, Namespace: StatusNamespace, AckID: -1}
	if err := sess.write(encodePacket(join)); err != nil {
		return errors.WrapTransient(err, "SocketIO", "handshake", "join namespace")
	}

	for {
		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			return errors.WrapTransient(err, "SocketIO", "handshake", "await namespace")
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePing:
			if err := sess.write(string(enginePong)); err != nil {
				return errors.WrapTransient(err, "SocketIO", "handshake", "send pong")
			}
			continue
		case engineClose:
			return errors.WrapTransient(errors.ErrConnectionLost, "SocketIO", "handshake", "await namespace")
		case engineMessage:
		default:
			continue
		}

		p, err := decodePacket(string(frame[1:]))
		if err != nil || p.Namespace != StatusNamespace {
			continue
		}
		switch p.Type {
		case packetConnect:
			monitor, err := eventPacket(StatusNamespace, "monitor", startMonitoring)
			if err != nil {
				return err
			}
			if err := sess.write(encodePacket(monitor)); err != nil {
				return errors.WrapTransient(err, "SocketIO", "handshake", "start monitoring")
			}
			return nil
		case packetConnectError:
			return errors.WrapTransient(
				fmt.Errorf("%w: %s", errors.ErrHandshakeFailed, connectError(p.Data)),
				"SocketIO", "handshake", "join namespace")
		}
	}
}

// serve reads frames until the session ends. Events are delivered on this
// goroutine, so each category sees messages in arrival order.
func (c *Client) serve(ctx context.Context, sess *session, callbacks map[status.Category]status.Callback) error {
	stop := context.AfterFunc(ctx, sess.close)
	defer stop()
	defer sess.close()

	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(sess.readTimeout))
		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			return errors.WrapTransient(err, "SocketIO", "serve", "read frame")
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePing:
			if err := sess.write(string(enginePong)); err != nil {
				return errors.WrapTransient(err, "SocketIO", "serve", "send pong")
			}
		case engineClose:
			return errors.WrapTransient(errors.ErrConnectionLost, "SocketIO", "serve", "server closed session")
		case engineMessage:
			if err := c.handlePacket(ctx, string(frame[1:]), callbacks); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handlePacket(ctx context.Context, frame string, callbacks map[status.Category]status.Callback) error {
	p, err := decodePacket(frame)
	if err != nil {
		c.logger.Debug("Ignoring undecodable packet", "error", err)
		return nil
	}
	if p.Namespace != StatusNamespace {
		return nil
	}

	switch p.Type {
	case packetDisconnect:
		return errors.WrapTransient(errors.ErrConnectionLost, "SocketIO", "serve", "namespace disconnected")
	case packetEvent:
	default:
		return nil
	}

	event, payload, err := decodeEvent(p.Data)
	if err != nil {
		c.logger.Debug("Ignoring malformed event", "error", err)
		return nil
	}
	category, ok := CategoryForEvent(event)
	if !ok {
		c.logger.Debug("Ignoring unknown status event", "event", event)
		return nil
	}
	if callback, ok := callbacks[category]; ok {
		callback(ctx, payload)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) socketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String()
}

func (c *Client) xsrfToken() string {
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		if cookie.Name == xsrfCookie {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) setConnected() {
	if c.metrics != nil {
		c.metrics.RecordUpstreamStatus(FeedName, true)
	}
	if c.observer != nil {
		c.observer.SetConnected(FeedName)
	}
}

func (c *Client) setDisconnected(err error) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamStatus(FeedName, false)
	}
	if c.observer != nil {
		c.observer.SetDisconnected(FeedName, err)
	}
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

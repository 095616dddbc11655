package natsclient

import (
	"fmt"
	"log/slog"
	"time"
)

// settings collects everything a ClientOption can change. Credentials are
// cleared when the client closes.
type settings struct {
	logger *slog.Logger
	name   string

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	breakerThreshold int
	breakerMax       time.Duration

	username string
	password string
	token    string

	certFile string
	keyFile  string
	caFile   string

	onDisconnect func(error)
	onReconnect  func()
	onClosed     func()
}

func defaultSettings() settings {
	return settings{
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		breakerThreshold: 5,
		breakerMax:       time.Minute,
	}
}

// ClientOption configures a Client.
type ClientOption func(*settings) error

// WithLogger sets the client logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *settings) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithName sets the connection name shown by the server's monitoring
// endpoints.
func WithName(name string) ClientOption {
	return func(s *settings) error {
		s.name = name
		return nil
	}
}

// WithMaxReconnects limits reconnect attempts after a connection is lost.
// -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(s *settings) error {
		if n < -1 {
			return fmt.Errorf("max reconnects %d: want -1 or more", n)
		}
		s.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait %v: must be positive", d)
		}
		s.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets how often the server is pinged.
func WithPingInterval(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("ping interval %v: must be positive", d)
		}
		s.pingInterval = d
		return nil
	}
}

// WithTimeout bounds the initial dial and each flush.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("timeout %v: must be positive", d)
		}
		s.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout %v: must be positive", d)
		}
		s.drainTimeout = d
		return nil
	}
}

// WithCircuitBreaker opens the breaker after threshold consecutive connect
// failures. Cooldowns start at one second and double up to maxCooldown.
func WithCircuitBreaker(threshold int, maxCooldown time.Duration) ClientOption {
	return func(s *settings) error {
		if threshold < 1 {
			return fmt.Errorf("breaker threshold %d: must be at least 1", threshold)
		}
		if maxCooldown < initialCooldown {
			return fmt.Errorf("breaker cooldown %v: must be at least %v", maxCooldown, initialCooldown)
		}
		s.breakerThreshold = threshold
		s.breakerMax = maxCooldown
		return nil
	}
}

// WithCredentials authenticates with a username and password.
func WithCredentials(username, password string) ClientOption {
	return func(s *settings) error {
		s.username = username
		s.password = password
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(s *settings) error {
		s.token = token
		return nil
	}
}

// WithTLS sets a client certificate and an extra CA file. Either may be
// empty; the certificate and key must be given together.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(s *settings) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("client certificate needs both cert and key files")
		}
		s.certFile = certFile
		s.keyFile = keyFile
		s.caFile = caFile
		return nil
	}
}

// WithDisconnectCallback is called, on its own goroutine, when an
// established connection drops.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(s *settings) error {
		s.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called, on its own goroutine, after nats.go
// restores a dropped connection.
func WithReconnectCallback(fn func()) ClientOption {
	return func(s *settings) error {
		s.onReconnect = fn
		return nil
	}
}

// WithClosedCallback is called, on its own goroutine, when nats.go gives up
// on the connection for good. It is not called for Close.
func WithClosedCallback(fn func()) ClientOption {
	return func(s *settings) error {
		s.onClosed = fn
		return nil
	}
}

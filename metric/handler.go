package metric

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/health"
)

// DefaultPort matches the port the exporter has always listened on.
const DefaultPort = 8000

// HealthSource supplies the status served on /health
type HealthSource interface {
	Status() health.Status
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithHealthSource serves the given source on /health
func WithHealthSource(src HealthSource) ServerOption {
	return func(s *Server) {
		s.health = src
	}
}

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBindAddress restricts the listener to one interface (default: all)
func WithBindAddress(host string) ServerOption {
	return func(s *Server) {
		s.host = host
	}
}

// WithTLSConfig serves https using cfg. A nil cfg keeps plain http.
func WithTLSConfig(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// Server represents the metrics HTTP server
type Server struct {
	host      string
	port      int
	path      string
	registry  *MetricsRegistry
	health    HealthSource
	logger    *slog.Logger
	tlsConfig *tls.Config

	server   *http.Server
	listener net.Listener
	done     chan struct{}
	mu       sync.Mutex
}

// NewServer creates a new metrics server with the provided registry.
// A negative port binds an ephemeral port.
func NewServer(port int, path string, registry *MetricsRegistry, opts ...ServerOption) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		port:     port,
		path:     path,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving metrics, health and the index page
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
		},
	))

	mux.HandleFunc("/health", s.serveHealth)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>Assemblyline Exporter</title></head>
<body>
<h1>Assemblyline Exporter</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`, s.path)
	})

	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	status := s.health.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to encode health status", "error", err)
	}
}

// Start binds the listener and serves in the background. Bind failures are
// returned here so the caller can treat them as startup-fatal.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}

	if s.registry == nil {
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	port := s.port
	if port < 0 {
		port = 0
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprint(port)))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("bind metrics port %d", s.port))
	}

	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}

	s.listener = listener
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	server, done := s.server, s.done
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server stopped unexpectedly", "error", err)
		}
	}()

	s.logger.Info("Metrics server listening", "address", listener.Addr().String(), "path", s.path)
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	<-s.done
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Address returns the metrics URL
func (s *Server) Address() string {
	host := s.host
	if host == "" {
		host = "localhost"
	}
	port := s.port
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	scheme := "http"
	if s.tlsConfig != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, fmt.Sprint(port)), s.path)
}

package metric

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/health"
)

type staticHealth struct {
	status health.Status
}

func (s staticHealth) Status() health.Status {
	return s.status
}

func startTestServer(t *testing.T, registry *MetricsRegistry, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithBindAddress("127.0.0.1")}, opts...)
	server := NewServer(-1, "/metrics", registry, opts...)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestNewServer_Defaults(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, DefaultPort, server.port)
	assert.Equal(t, "/metrics", server.path)
	assert.Equal(t, "http://localhost:8000/metrics", server.Address())
	assert.Nil(t, server.Addr())
}

func TestServer_ScrapeBeforeAnyMessage(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.MustDefineGauge("test_bytes_ingested", "Bytes completed")
	registry.MustDefineGauge("test_component_instances", "Number of instances", "component")

	server := startTestServer(t, registry)

	resp, body := get(t, server.Address())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(body))
	require.NoError(t, err)

	bytes, ok := families["test_bytes_ingested"]
	require.True(t, ok, "unlabeled gauge should be exposed")
	assert.Equal(t, 0.0, bytes.GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, "Bytes completed", bytes.GetHelp())

	_, ok = families["test_component_instances"]
	assert.False(t, ok, "labeled gauge has no series until written")

	_, ok = families["go_goroutines"]
	assert.True(t, ok, "runtime collectors should be served")
}

func TestServer_ScrapeReflectsWrites(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	queue := registry.MustDefineGauge("test_service_queue", "Queue", "service")
	server := startTestServer(t, registry)

	queue.Set(833, "apkaye")

	_, body := get(t, server.Address())
	assert.Contains(t, body, `test_service_queue{service="apkaye"} 833`)
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name       string
		state      string
		wantStatus int
	}{
		{"healthy", health.StateHealthy, http.StatusOK},
		{"degraded", health.StateDegraded, http.StatusOK},
		{"unhealthy", health.StateUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := staticHealth{status: health.Status{
				Component: "assemblyline-exporter",
				Healthy:   tt.state == health.StateHealthy,
				Status:    tt.state,
			}}
			server := NewServer(-1, "/metrics", NewMetricsRegistry(WithoutRuntimeCollectors()),
				WithHealthSource(src))

			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var decoded health.Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
			assert.Equal(t, tt.state, decoded.Status)
		})
	}
}

func TestServer_HealthWithoutSource(t *testing.T) {
	server := NewServer(-1, "/metrics", NewMetricsRegistry(WithoutRuntimeCollectors()))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_IndexAndNotFound(t *testing.T) {
	server := NewServer(-1, "/custom", NewMetricsRegistry(WithoutRuntimeCollectors()))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/custom"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartFailsOnUsedPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	server := NewServer(port, "/metrics", NewMetricsRegistry(WithoutRuntimeCollectors()),
		WithBindAddress("127.0.0.1"))

	err = server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Nil(t, server.Addr())
}

func TestServer_StartTwice(t *testing.T) {
	server := startTestServer(t, NewMetricsRegistry(WithoutRuntimeCollectors()))

	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	server := NewServer(-1, "/metrics", nil)
	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServer_Stop(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	server := NewServer(-1, "/metrics", registry, WithBindAddress("127.0.0.1"))
	require.NoError(t, server.Start())

	addr := server.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	assert.Nil(t, server.Addr())

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)

	// Stopping again is a no-op
	require.NoError(t, server.Stop(ctx))
}

func TestServer_OpenMetricsNegotiation(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	registry.MustDefineGauge("test_bytes", "Bytes")
	server := startTestServer(t, registry)

	req, err := http.NewRequest(http.MethodGet, server.Address(), nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/openmetrics-text; version=1.0.0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/openmetrics-text"),
		fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(body)), "# EOF"))
}

func TestServer_TLS(t *testing.T) {
	// Borrow httptest's self-signed certificate and a client that trusts it
	issuer := httptest.NewTLSServer(http.NotFoundHandler())
	certs := issuer.TLS.Certificates
	client := issuer.Client()
	issuer.Close()

	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	server := startTestServer(t, registry, WithTLSConfig(&tls.Config{
		Certificates: certs,
		MinVersion:   tls.VersionTLS12,
	}))
	require.True(t, strings.HasPrefix(server.Address(), "https://127.0.0.1:"))

	resp, err := client.Get(server.Address())
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = http.Get(server.Address())
	assert.Error(t, err)
}

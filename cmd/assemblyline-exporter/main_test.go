package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptoslogic/assemblyline-exporter/config"
	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/health"
	"github.com/kryptoslogic/assemblyline-exporter/metric"
	"github.com/kryptoslogic/assemblyline-exporter/natsclient"
	"github.com/kryptoslogic/assemblyline-exporter/socketio"
	"github.com/kryptoslogic/assemblyline-exporter/status"
)

var exporterEnv = []string{
	"ASSEMBLYLINE_HOST", "ASSEMBLYLINE_USERNAME", "ASSEMBLYLINE_APIKEY", "ASSEMBLYLINE_VERIFY",
	"EXPORTER_CONFIG", "EXPORTER_ENV_FILE", "EXPORTER_LOG_LEVEL", "EXPORTER_LOG_FORMAT",
	"EXPORTER_SHUTDOWN_TIMEOUT", "EXPORTER_PORT", "EXPORTER_METRICS_PATH", "EXPORTER_FEED",
	"EXPORTER_NATS_URL", "EXPORTER_BIND_ADDRESS", "ASSEMBLYLINE_CA_FILE",
	"EXPORTER_TLS_CERT_FILE", "EXPORTER_TLS_KEY_FILE", "EXPORTER_NATS_TOKEN",
}

// clearEnv blanks the exporter variables and restores the default logger,
// which run replaces.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range exporterEnv {
		t.Setenv(key, "")
	}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseFlags_Defaults(t *testing.T) {
	clearEnv(t)

	cli, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "", cli.ConfigPath)
	assert.Equal(t, config.DefaultEnvFile, cli.EnvFile)
	assert.Equal(t, "info", cli.LogLevel)
	assert.Equal(t, "json", cli.LogFormat)
	assert.Equal(t, 0, cli.Port)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)
	assert.False(t, cli.Validate)
	assert.False(t, cli.ShowVersion)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXPORTER_LOG_LEVEL", "debug")
	t.Setenv("EXPORTER_SHUTDOWN_TIMEOUT", "3s")

	cli, err := parseFlags([]string{"-log-format", "text"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "text", cli.LogFormat)
	assert.Equal(t, 3*time.Second, cli.ShutdownTimeout)

	// Flags beat the environment
	cli, err = parseFlags([]string{"-log-level", "warn", "-port", "9100", "-env-file="}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "warn", cli.LogLevel)
	assert.Equal(t, 9100, cli.Port)
	assert.Equal(t, "", cli.EnvFile)
}

func TestParseFlags_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"log level", []string{"-log-level", "trace"}},
		{"log format", []string{"-log-format", "xml"}},
		{"port", []string{"-port", "70000"}},
		{"shutdown timeout", []string{"-shutdown-timeout", "0s"}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	clearEnv(t)
	var out bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &out)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, out.String(), "ASSEMBLYLINE_APIKEY")
	assert.Contains(t, out.String(), "-shutdown-timeout")
}

func TestRun_Version(t *testing.T) {
	clearEnv(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &out, io.Discard))
	assert.Contains(t, out.String(), appName+" version "+Version)
}

func TestRun_ValidateMissingCredentials(t *testing.T) {
	clearEnv(t)

	err := run([]string{"-validate", "-env-file="}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))
}

func TestRun_Validate(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASSEMBLYLINE_HOST", "al.example.com")
	t.Setenv("ASSEMBLYLINE_USERNAME", "admin")
	t.Setenv("ASSEMBLYLINE_APIKEY", "name:secret")

	var out bytes.Buffer
	require.NoError(t, run([]string{"-validate", "-env-file=", "-log-format", "text"}, &out, io.Discard))
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.NotContains(t, out.String(), "name:secret")
	assert.Contains(t, out.String(), "instance_id=")
}

// idleFeed connects to nothing and returns when cancelled.
type idleFeed struct {
	listening chan struct{}
}

func (f *idleFeed) Listen(ctx context.Context, _ map[status.Category]status.Callback) error {
	close(f.listening)
	<-ctx.Done()
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Upstream.Host = "al.example.com"
	cfg.Upstream.Username = "admin"
	cfg.Upstream.APIKey = "key"
	cfg.Server.Port = -1
	cfg.Server.BindAddress = "127.0.0.1"
	return cfg
}

func TestApp_ServesBeforeFirstMessage(t *testing.T) {
	a, err := newApp(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), metric.WithoutRuntimeCollectors())
	require.NoError(t, err)
	feed := &idleFeed{listening: make(chan struct{})}
	a.feed = feed

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, &CLIConfig{ShutdownTimeout: 5 * time.Second}) }()

	select {
	case <-feed.listening:
	case <-time.After(5 * time.Second):
		t.Fatal("feed never started")
	}

	resp, err := http.Get(a.server.Address())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "assemblyline_bytes_ingested 0")
	assert.Contains(t, string(body), "assemblyline_submissions_completed 0")

	// Nothing is connected yet
	healthURL := "http://" + a.server.Addr().String() + "/health"
	resp, err = http.Get(healthURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	a.tracker.SetConnected("socketio")
	resp, err = http.Get(healthURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Nil(t, a.server.Addr())
}

func TestApp_FeedFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Feed = config.FeedNATS
	cfg.NATS.URL = "nats://127.0.0.1:1"

	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metric.WithoutRuntimeCollectors())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = a.Run(ctx, &CLIConfig{ShutdownTimeout: 5 * time.Second})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Nil(t, a.server.Addr())
}

func TestApp_BindFailure(t *testing.T) {
	first, err := newApp(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), metric.WithoutRuntimeCollectors())
	require.NoError(t, err)
	require.NoError(t, first.server.Start())
	t.Cleanup(func() { _ = first.server.Stop(context.Background()) })

	cfg := testConfig()
	cfg.Server.Port = first.server.Addr().(*net.TCPAddr).Port
	second, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metric.WithoutRuntimeCollectors())
	require.NoError(t, err)

	err = second.Run(context.Background(), &CLIConfig{ShutdownTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestNewApp_ServerTLSFilesMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TLS.CertFile = filepath.Join(t.TempDir(), "cert.pem")
	cfg.Server.TLS.KeyFile = filepath.Join(t.TempDir(), "key.pem")

	_, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metric.WithoutRuntimeCollectors())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestNewFeed_SelectsTransport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := metric.NewMetricsRegistry(metric.WithoutRuntimeCollectors())

	tracker := health.NewTracker()

	cfg := testConfig()
	feed, err := newFeed(cfg, registry.CoreMetrics(), tracker, logger)
	require.NoError(t, err)
	assert.IsType(t, &socketio.Client{}, feed)

	cfg.Feed = config.FeedNATS
	cfg.NATS.Token = "s3cret"
	feed, err = newFeed(cfg, registry.CoreMetrics(), tracker, logger)
	require.NoError(t, err)
	assert.IsType(t, &natsclient.Feed{}, feed)

	cfg.Feed = "carrier-pigeon"
	_, err = newFeed(cfg, registry.CoreMetrics(), tracker, logger)
	assert.True(t, errors.IsFatal(err))
}

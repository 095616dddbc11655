// Package tlsutil builds tls.Config values for the exporter's upstream
// clients and its metrics server.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// ClientConfig describes how to verify a server.
// The system CA bundle is always trusted; CAFiles are added to it.
type ClientConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
}

// ServerConfig holds the certificate served on the metrics endpoint
type ServerConfig struct {
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// Enabled reports whether a certificate is configured
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// LoadServerTLSConfig loads the configured key pair. It returns nil when TLS
// is not enabled.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   ParseTLSVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig creates a tls.Config for HTTP and WebSocket clients
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: ParseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.CAFiles) > 0 {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			rootCAs = x509.NewCertPool()
		}

		for _, caFile := range cfg.CAFiles {
			caPEM, err := os.ReadFile(caFile)
			if err != nil {
				return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
			}
			if !rootCAs.AppendCertsFromPEM(caPEM) {
				return nil, errors.WrapFatal(
					fmt.Errorf("%w: no certificates in %s", errors.ErrInvalidConfig, caFile),
					"tlsutil", "LoadClientTLSConfig", "parse CA certificate")
			}
		}
		tlsConfig.RootCAs = rootCAs
	}

	// Opt-in for self-signed Assemblyline deployments
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec
	}

	return tlsConfig, nil
}

// ParseTLSVersion converts a version string to a crypto/tls constant.
// Anything other than "1.3" yields TLS 1.2.
func ParseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

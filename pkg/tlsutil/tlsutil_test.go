package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// generateTestCert creates a self-signed certificate valid for localhost
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	return certPEM, keyPEM
}

// setupTestFiles writes a certificate, its key and the same certificate as CA
func setupTestFiles(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile := setupTestFiles(t)

	t.Run("disabled", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(ServerConfig{})
		assert.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("valid pair", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := LoadServerTLSConfig(ServerConfig{CertFile: certFile})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("mismatched files", func(t *testing.T) {
		_, err := LoadServerTLSConfig(ServerConfig{CertFile: keyFile, KeyFile: certFile})
		assert.Error(t, err)
	})
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, _ := setupTestFiles(t)

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(ClientConfig{})
		require.NoError(t, err)
		assert.Nil(t, cfg.RootCAs)
		assert.False(t, cfg.InsecureSkipVerify)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("insecure", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(ClientConfig{InsecureSkipVerify: true})
		require.NoError(t, err)
		assert.True(t, cfg.InsecureSkipVerify)
	})

	t.Run("additional CA", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(ClientConfig{CAFiles: []string{certFile}})
		require.NoError(t, err)
		assert.NotNil(t, cfg.RootCAs)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := LoadClientTLSConfig(ClientConfig{CAFiles: []string{filepath.Join(t.TempDir(), "nope.pem")}})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("CA file without certificates", func(t *testing.T) {
		bogus := filepath.Join(t.TempDir(), "bogus.pem")
		require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o644))

		_, err := LoadClientTLSConfig(ClientConfig{CAFiles: []string{bogus}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
	})
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), ParseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), ParseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), ParseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), ParseTLSVersion("1.0"))
}

func TestHandshake(t *testing.T) {
	certFile, keyFile := setupTestFiles(t)

	serverCfg, err := LoadServerTLSConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	get := func(cfg ClientConfig) error {
		clientCfg, err := LoadClientTLSConfig(cfg)
		require.NoError(t, err)
		client := &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{TLSClientConfig: clientCfg},
		}
		resp, err := client.Get(srv.URL)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	assert.NoError(t, get(ClientConfig{CAFiles: []string{certFile}}))
	assert.NoError(t, get(ClientConfig{InsecureSkipVerify: true}))
	assert.Error(t, get(ClientConfig{}), "self-signed certificate must not verify against system roots")
}

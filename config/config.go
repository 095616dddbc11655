package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/pkg/tlsutil"
	"github.com/kryptoslogic/assemblyline-exporter/status"
)

// Feed types
const (
	FeedSocketIO = "socketio"
	FeedNATS     = "nats"
)

// DefaultEnvFile is read when present; a missing default file is not an error.
const DefaultEnvFile = ".env"

// Config represents the complete exporter configuration
type Config struct {
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Feed     string         `json:"feed" yaml:"feed"` // socketio or nats
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Compat   status.Compat  `json:"compat" yaml:"compat"`
	Health   HealthConfig   `json:"health" yaml:"health"`
}

// UpstreamConfig identifies the Assemblyline instance and its API key
type UpstreamConfig struct {
	Host     string `json:"host" yaml:"host"`
	Username string `json:"username" yaml:"username"`
	APIKey   string `json:"apikey" yaml:"apikey"`
	Verify   bool   `json:"verify" yaml:"verify"` // TLS certificate verification
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// ServerConfig controls the exposition endpoint
type ServerConfig struct {
	Port        int    `json:"port" yaml:"port"`
	MetricsPath string `json:"metrics_path" yaml:"metrics_path"`
	BindAddress string `json:"bind_address" yaml:"bind_address"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls"`
}

// NATSConfig selects the NATS server and subjects used by the nats feed
type NATSConfig struct {
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
	Stream        string `json:"stream" yaml:"stream"`

	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// TLSEnabled reports whether any client certificate or CA is configured
func (n NATSConfig) TLSEnabled() bool {
	return n.CertFile != "" || n.KeyFile != "" || n.CAFile != ""
}

// HealthConfig tunes /health reporting
type HealthConfig struct {
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{Verify: true},
		Server: ServerConfig{
			Port:        8000,
			MetricsPath: "/metrics",
		},
		Feed: FeedSocketIO,
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "assemblyline.status",
		},
		Health: HealthConfig{StaleAfter: 5 * time.Minute},
	}
}

// Validate checks that the selected feed has what it needs to start
func (c *Config) Validate() error {
	switch c.Feed {
	case FeedSocketIO:
		missing := []string{}
		if c.Upstream.Host == "" {
			missing = append(missing, "ASSEMBLYLINE_HOST")
		}
		if c.Upstream.Username == "" {
			missing = append(missing, "ASSEMBLYLINE_USERNAME")
		}
		if c.Upstream.APIKey == "" {
			missing = append(missing, "ASSEMBLYLINE_APIKEY")
		}
		if len(missing) > 0 {
			return errors.WrapFatal(
				fmt.Errorf("%w: %s", errors.ErrMissingConfig, strings.Join(missing, ", ")),
				"Config", "Validate", "check upstream")
		}
	case FeedNATS:
		if c.NATS.URL == "" {
			return errors.WrapFatal(
				fmt.Errorf("%w: EXPORTER_NATS_URL", errors.ErrMissingConfig),
				"Config", "Validate", "check nats")
		}
		if !isValidSubjectPrefix(c.NATS.SubjectPrefix) {
			return invalid("check nats", "subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix)
		}
	default:
		return invalid("check feed", "unknown feed %q (want %s or %s)", c.Feed, FeedSocketIO, FeedNATS)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("check server", "port %d out of range", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") || c.Server.MetricsPath == "/" || c.Server.MetricsPath == "/health" {
		return invalid("check server", "metrics_path %q must be an absolute path other than / and /health", c.Server.MetricsPath)
	}
	if c.Server.TLS.Enabled() && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return invalid("check server", "tls needs both cert_file and key_file")
	}
	if (c.NATS.CertFile == "") != (c.NATS.KeyFile == "") {
		return invalid("check nats", "client certificate needs both cert_file and key_file")
	}
	if c.Health.StaleAfter < 0 {
		return invalid("check health", "stale_after must not be negative")
	}
	return nil
}

func invalid(action, format string, args ...any) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", action)
}

// isValidSubjectPrefix accepts dot separated tokens without wildcards
func isValidSubjectPrefix(s string) bool {
	if s == "" {
		return true
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" || strings.ContainsAny(token, "*> \t") {
			return false
		}
	}
	return true
}

// Redacted returns a copy that is safe to log
func (c *Config) Redacted() *Config {
	copied := *c
	for _, secret := range []*string{&copied.Upstream.APIKey, &copied.NATS.Password, &copied.NATS.Token} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	return &copied
}

// String returns a JSON representation of the config with secrets removed
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	envFile    string
	validation bool
}

// NewLoader creates a loader that reads DefaultEnvFile if it exists
func NewLoader() *Loader {
	return &Loader{envFile: DefaultEnvFile}
}

// AddLayer adds a JSON or YAML configuration file. Later layers win.
func (l *Loader) AddLayer(path string) {
	if path != "" {
		l.layers = append(l.layers, path)
	}
}

// SetEnvFile replaces the .env file. An empty path disables it. Any path
// other than DefaultEnvFile must exist.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load builds the configuration: defaults, file layers, the .env file, then
// environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged, err := l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Loader", "Load", fmt.Sprintf("merge %s", path))
		}
		cfg = merged
	}

	if err := l.loadEnvFile(); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", l.envFile))
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadEnvFile exports the .env file into the process environment without
// replacing variables that are already set.
func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); err != nil {
		if os.IsNotExist(err) && l.envFile == DefaultEnvFile {
			return nil
		}
		return err
	}
	return godotenv.Load(l.envFile)
}

// loadRaw reads a configuration file into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	health, ok := data["health"].(map[string]any)
	if !ok {
		return nil
	}
	if s, ok := health["stale_after"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("health.stale_after: %w", err)
		}
		health["stale_after"] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides. Empty variables
// are ignored.
func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"ASSEMBLYLINE_HOST", &cfg.Upstream.Host},
		{"ASSEMBLYLINE_USERNAME", &cfg.Upstream.Username},
		{"ASSEMBLYLINE_APIKEY", &cfg.Upstream.APIKey},
		{"ASSEMBLYLINE_CA_FILE", &cfg.Upstream.CAFile},
		{"EXPORTER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile},
		{"EXPORTER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile},
		{"EXPORTER_METRICS_PATH", &cfg.Server.MetricsPath},
		{"EXPORTER_BIND_ADDRESS", &cfg.Server.BindAddress},
		{"EXPORTER_FEED", &cfg.Feed},
		{"EXPORTER_NATS_URL", &cfg.NATS.URL},
		{"EXPORTER_NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix},
		{"EXPORTER_NATS_STREAM", &cfg.NATS.Stream},
		{"EXPORTER_NATS_USERNAME", &cfg.NATS.Username},
		{"EXPORTER_NATS_PASSWORD", &cfg.NATS.Password},
		{"EXPORTER_NATS_TOKEN", &cfg.NATS.Token},
	}
	for _, s := range strs {
		val, err := lookupEnv(s.key)
		if err != nil {
			return err
		}
		if val != "" {
			*s.dst = val
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"ASSEMBLYLINE_VERIFY", &cfg.Upstream.Verify},
		{"EXPORTER_CORRECT_SERVICE_INSTANCES", &cfg.Compat.CorrectServiceInstances},
		{"EXPORTER_CORRECT_BYTE_GAUGES", &cfg.Compat.CorrectByteGauges},
	}
	for _, b := range bools {
		val, err := lookupEnv(b.key)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", errors.ErrInvalidConfig, b.key, val)
		}
		*b.dst = parsed
	}

	if val, err := lookupEnv("EXPORTER_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: EXPORTER_PORT=%q is not a number", errors.ErrInvalidConfig, val)
		}
		cfg.Server.Port = port
	}

	if val, err := lookupEnv("EXPORTER_HEALTH_STALE_AFTER"); err != nil {
		return err
	} else if val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: EXPORTER_HEALTH_STALE_AFTER=%q", errors.ErrInvalidConfig, val)
		}
		cfg.Health.StaleAfter = d
	}
	return nil
}

func lookupEnv(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if err := checkEnvValue(key, val); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return val, nil
}

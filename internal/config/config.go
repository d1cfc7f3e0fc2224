// Package config loads and validates the calendarrelay YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the Google client credentials, so the
// secret can stay out of the config file.
const (
	EnvClientID     = "CALENDARRELAY_GOOGLE_CLIENT_ID"
	EnvClientSecret = "CALENDARRELAY_GOOGLE_CLIENT_SECRET"
)

// DefaultListenAddr is the HTTP listen address used when listen_addr is unset.
const DefaultListenAddr = "127.0.0.1:8765"

// DefaultScopes is the OAuth scope set requested when google.scopes is unset.
var DefaultScopes = []string{"https://www.googleapis.com/auth/calendar.events"}

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Google holds the OAuth client and API settings.
	Google GoogleConfig `yaml:"google"`

	// DBPath is the SQLite state database. Defaults to
	// ~/.local/share/calendarrelay/state.db.
	DBPath string `yaml:"db_path,omitempty"`

	// ListenAddr is the host:port the HTTP API binds to.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// APIKeys are accepted in the X-API-Key header. An empty list disables
	// the check, which is only sensible behind an authenticating proxy.
	APIKeys []string `yaml:"api_keys,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// GoogleConfig holds the OAuth client registration and optional endpoint
// overrides.
type GoogleConfig struct {
	// ClientID and ClientSecret identify the OAuth client. They may be left
	// empty here and supplied through the environment; a missing pair is
	// reported when a token refresh is attempted, not at load time.
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// RedirectURL is the OAuth callback, normally
	// http://<listen_addr>/oauth/google/callback.
	RedirectURL string `yaml:"redirect_url,omitempty"`

	// Scopes requested on consent. Defaults to [DefaultScopes].
	Scopes []string `yaml:"scopes,omitempty"`

	// AuthURL and TokenURL override Google's OAuth endpoints.
	AuthURL  string `yaml:"auth_url,omitempty"`
	TokenURL string `yaml:"token_url,omitempty"`

	// APIEndpoint overrides the Calendar API base URL.
	APIEndpoint string `yaml:"api_endpoint,omitempty"`
}

// HasClient reports whether both client id and secret are set.
func (g GoogleConfig) HasClient() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "calendarrelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/calendarrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "calendarrelay", "config.yaml"), nil
}

// EnvPath returns the .env file kept next to the config file at cfgPath.
func EnvPath(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), ".env")
}

// LoadEnv loads the .env file next to cfgPath into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnv(cfgPath string) error {
	err := godotenv.Load(EnvPath(cfgPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", EnvPath(cfgPath), err)
	}
	return nil
}

// WriteEnv stores the client credentials in the .env file next to cfgPath,
// readable by the owner only.
func WriteEnv(cfgPath, clientID, clientSecret string) error {
	path := EnvPath(cfgPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	env := map[string]string{
		EnvClientID:     clientID,
		EnvClientSecret: clientSecret,
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", path, err)
	}
	return nil
}

// Load reads and validates the configuration file at the given path, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write serialises the config as YAML to path, creating parent directories.
// The file is written 0600 because it may hold the client secret.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvClientID); v != "" {
		c.Google.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Google.ClientSecret = v
	}
}

// validate checks optional fields for well-formedness and fills defaults.
func (c *Config) validate() error {
	for key, raw := range map[string]string{
		"google.redirect_url": c.Google.RedirectURL,
		"google.auth_url":     c.Google.AuthURL,
		"google.token_url":    c.Google.TokenURL,
		"google.api_endpoint": c.Google.APIEndpoint,
	} {
		if raw == "" {
			continue
		}
		u, err := url.ParseRequestURI(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s %q must be a valid http or https URL", key, raw)
		}
	}

	if (c.Google.ClientID == "") != (c.Google.ClientSecret == "") {
		return fmt.Errorf("google.client_id and google.client_secret must be set together")
	}

	if len(c.Google.Scopes) == 0 {
		c.Google.Scopes = DefaultScopes
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}

	for i, k := range c.APIKeys {
		if k == "" {
			return fmt.Errorf("api_keys[%d] is empty", i)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

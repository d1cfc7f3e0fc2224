package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

// clearEnv keeps the developer's shell from leaking into the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")
}

func TestLoad_Valid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
google:
  client_id: "client.apps.googleusercontent.com"
  client_secret: "s3cret"
  redirect_url: "http://127.0.0.1:8765/oauth/google/callback"
db_path: "/tmp/calendarrelay.db"
listen_addr: "0.0.0.0:9000"
api_keys: ["k1", "k2"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Google.ClientID != "client.apps.googleusercontent.com" {
		t.Errorf("ClientID = %q", cfg.Google.ClientID)
	}
	if !cfg.Google.HasClient() {
		t.Error("HasClient = false, want true")
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:9000", cfg.ListenAddr)
	}
	if len(cfg.APIKeys) != 2 {
		t.Errorf("APIKeys len = %d, want 2", len(cfg.APIKeys))
	}
	if len(cfg.Google.Scopes) != 1 || cfg.Google.Scopes[0] != DefaultScopes[0] {
		t.Errorf("Scopes = %v, want defaults", cfg.Google.Scopes)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
google:
  redirect_url: "https://relay.example.com/oauth/google/callback"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want default %q", cfg.ListenAddr, DefaultListenAddr)
	}
	// A missing client pair is a runtime condition, not a load error.
	if cfg.Google.HasClient() {
		t.Error("HasClient = true for empty client config")
	}
}

func TestLoad_EnvOverridesClient(t *testing.T) {
	t.Setenv(EnvClientID, "env-id")
	t.Setenv(EnvClientSecret, "env-secret")
	path := writeConfig(t, `
google:
  client_id: "file-id"
  client_secret: "file-secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Google.ClientID != "env-id" || cfg.Google.ClientSecret != "env-secret" {
		t.Errorf("client = %q/%q, want env values", cfg.Google.ClientID, cfg.Google.ClientSecret)
	}
}

func TestLoad_HalfClientPair(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
google:
  client_id: "only-id"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for client_id without client_secret, got nil")
	}
}

func TestLoad_InvalidRedirectURL(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
google:
  redirect_url: "not-a-url"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid redirect_url, got nil")
	}
}

func TestLoad_EmptyAPIKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api_keys: ["", "k2"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty api key, got nil")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
listen_addr: "127.0.0.1:8765"
unknown_field: oops
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		Google: GoogleConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURL:  "http://127.0.0.1:8765/oauth/google/callback",
		},
		ListenAddr: "127.0.0.1:8765",
	}
	if err := in.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Google.ClientSecret != "secret" || out.Google.RedirectURL != in.Google.RedirectURL {
		t.Errorf("round trip mismatch: %+v", out.Google)
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-calendarrelay"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-calendarrelay" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-calendarrelay")
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
telemetry:
  insecure: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for telemetry missing otlp_endpoint, got nil")
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q", cfg.Telemetry.Headers["Authorization"])
	}
}

func TestWriteEnv_LoadEnvRoundTrip(t *testing.T) {
	// t.Setenv restores the originals; Unsetenv makes the keys absent so
	// LoadEnv may fill them.
	clearEnv(t)
	os.Unsetenv(EnvClientID)
	os.Unsetenv(EnvClientSecret)

	cfgPath := filepath.Join(t.TempDir(), "calendarrelay", "config.yaml")
	if err := WriteEnv(cfgPath, "id.apps.googleusercontent.com", "s3cret"); err != nil {
		t.Fatalf("WriteEnv: %v", err)
	}

	info, err := os.Stat(EnvPath(cfgPath))
	if err != nil {
		t.Fatalf("stat .env: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf(".env permissions = %o, want 600", perm)
	}

	if err := LoadEnv(cfgPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(EnvClientSecret); got != "s3cret" {
		t.Errorf("%s = %q, want s3cret", EnvClientSecret, got)
	}
}

func TestLoadEnv_MissingFileIsFine(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "config.yaml")); err != nil {
		t.Errorf("LoadEnv: %v", err)
	}
}

func TestLoadEnv_ShellWins(t *testing.T) {
	clearEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteEnv(cfgPath, "from-file", "file-secret"); err != nil {
		t.Fatalf("WriteEnv: %v", err)
	}
	t.Setenv(EnvClientID, "from-shell")

	if err := LoadEnv(cfgPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(EnvClientID); got != "from-shell" {
		t.Errorf("%s = %q, want from-shell", EnvClientID, got)
	}
}

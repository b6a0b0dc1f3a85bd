package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv(EnvSocketURL, "")
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvToken, "")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
transport:
  url: "wss://dash.example.com/socket"
  token: "abc"
  max_delay: 10s
prefs:
  backend: sqlite
  timezone: "Asia/Kolkata"
sync:
  max_pending: 64
server:
  port: 9090
telemetry:
  stdout: true
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Transport.URL != "wss://dash.example.com/socket" {
		t.Errorf("Transport.URL = %q", cfg.Transport.URL)
	}
	if cfg.Transport.Token != "abc" {
		t.Errorf("Transport.Token = %q", cfg.Transport.Token)
	}
	if cfg.Transport.MaxDelay != 10*time.Second {
		t.Errorf("Transport.MaxDelay = %v, want 10s", cfg.Transport.MaxDelay)
	}
	if cfg.API.BaseURL != "https://dash.example.com" {
		t.Errorf("API.BaseURL = %q, want derived https://dash.example.com", cfg.API.BaseURL)
	}
	if cfg.Prefs.Backend != "sqlite" {
		t.Errorf("Prefs.Backend = %q", cfg.Prefs.Backend)
	}
	if cfg.Sync.MaxPending != 64 {
		t.Errorf("Sync.MaxPending = %d", cfg.Sync.MaxPending)
	}
	if cfg.Server.Port != 9090 || cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if !cfg.Telemetry.Stdout {
		t.Error("Telemetry.Stdout = false, want true")
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Transport.InitialDelay != time.Second {
		t.Errorf("Transport.InitialDelay = %v, want 1s", cfg.Transport.InitialDelay)
	}
	if cfg.Transport.Multiplier != 2 {
		t.Errorf("Transport.Multiplier = %v, want 2", cfg.Transport.Multiplier)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("API.Timeout = %v", cfg.API.Timeout)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvSocketURL, "")
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvToken, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Transport.URL != DefaultSocketURL {
		t.Errorf("Transport.URL = %q, want %q", cfg.Transport.URL, DefaultSocketURL)
	}
	if cfg.API.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Prefs.Backend != "file" {
		t.Errorf("Prefs.Backend = %q", cfg.Prefs.Backend)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("transport: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("transport:\n  url: ws://file/ws\n  token: from-file\n"), 0644)

	t.Setenv(EnvSocketURL, "ws://env:7000/ws")
	t.Setenv(EnvAPIURL, "http://api.env:7001")
	t.Setenv(EnvToken, "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.URL != "ws://env:7000/ws" {
		t.Errorf("Transport.URL = %q", cfg.Transport.URL)
	}
	if cfg.API.BaseURL != "http://api.env:7001" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Transport.Token != "from-env" {
		t.Errorf("Transport.Token = %q", cfg.Transport.Token)
	}
}

func TestAPIFromSocket(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:8080/ws", "http://127.0.0.1:8080"},
		{"wss://dash.example.com/socket.io/", "https://dash.example.com"},
		{"not a url", "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		if got := apiFromSocket(tt.in); got != tt.want {
			t.Errorf("apiFromSocket(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocation(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Location() != time.Local {
		t.Error("default timezone should be local")
	}
	cfg.Prefs.Timezone = "UTC"
	if cfg.Location().String() != "UTC" {
		t.Errorf("Location() = %v", cfg.Location())
	}
	cfg.Prefs.Timezone = "Mars/Olympus"
	if cfg.Location() != time.Local {
		t.Error("unknown timezone should fall back to local")
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Transport.RandomizationFactor = 0.25
	p := cfg.RetryPolicy()
	if p.InitialDelay != time.Second || p.MaxDelay != 5*time.Second || p.RandomizationFactor != 0.25 {
		t.Errorf("RetryPolicy() = %+v", p)
	}
}

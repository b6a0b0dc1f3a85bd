package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alsoamit/manager-dash-sub001/internal/client"
	"github.com/alsoamit/manager-dash-sub001/internal/prefs"
)

// DefaultSocketURL is used when nothing configures the push endpoint.
const DefaultSocketURL = "ws://127.0.0.1:8080/ws"

// Environment overrides, applied after the file.
const (
	EnvSocketURL = "DASHSYNC_SOCKET_URL"
	EnvAPIURL    = "DASHSYNC_API_URL"
	EnvToken     = "DASHSYNC_TOKEN"
)

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	Prefs     PrefsConfig     `yaml:"prefs"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type TransportConfig struct {
	URL                 string        `yaml:"url"`
	Token               string        `yaml:"token"`
	InitialDelay        time.Duration `yaml:"initial_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"randomization"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	PongTimeout         time.Duration `yaml:"pong_timeout"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PrefsConfig struct {
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir"`
	Timezone string `yaml:"timezone"`
}

type SyncConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	MaxPending int           `yaml:"max_pending"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Token        string        `yaml:"token"`
	MockInterval time.Duration `yaml:"mock_interval"`
	MaxConns     int           `yaml:"max_conns"`
}

type TelemetryConfig struct {
	Stdout bool `yaml:"stdout"`
}

func defaultConfig() *Config {
	policy := client.DefaultRetryPolicy()
	return &Config{
		Transport: TransportConfig{
			InitialDelay:        policy.InitialDelay,
			MaxDelay:            policy.MaxDelay,
			Multiplier:          policy.Multiplier,
			RandomizationFactor: policy.RandomizationFactor,
			PingInterval:        25 * time.Second,
			PongTimeout:         60 * time.Second,
		},
		API: APIConfig{
			Timeout: 10 * time.Second,
		},
		Prefs: PrefsConfig{
			Backend:  prefs.KindFile,
			Dir:      prefs.DefaultDir(),
			Timezone: "Local",
		},
		Sync: SyncConfig{
			StaleAfter: 5 * time.Minute,
			MaxPending: 1024,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			MockInterval: 2 * time.Second,
			MaxConns:     100,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.resolve()
	return cfg, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/dashsync/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dashsync", "config.yaml")
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvSocketURL); v != "" {
		c.Transport.URL = v
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Transport.Token = v
	}
}

// resolve fills values derived from others.
func (c *Config) resolve() {
	if c.Transport.URL == "" {
		log.Printf("config: no socket url configured (set %s or transport.url), using %s", EnvSocketURL, DefaultSocketURL)
		c.Transport.URL = DefaultSocketURL
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = apiFromSocket(c.Transport.URL)
	}
}

// apiFromSocket maps ws://host/path to http://host.
func apiFromSocket(socketURL string) string {
	u, err := url.Parse(socketURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host}).String()
}

// RetryPolicy returns the transport backoff settings.
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		InitialDelay:        c.Transport.InitialDelay,
		MaxDelay:            c.Transport.MaxDelay,
		Multiplier:          c.Transport.Multiplier,
		RandomizationFactor: c.Transport.RandomizationFactor,
	}
}

// Location returns the fixed zone the report date is computed in. An
// unknown name falls back to local time.
func (c *Config) Location() *time.Location {
	switch c.Prefs.Timezone {
	case "", "Local":
		return time.Local
	}
	loc, err := time.LoadLocation(c.Prefs.Timezone)
	if err != nil {
		log.Printf("config: timezone %q: %v (using local time)", c.Prefs.Timezone, err)
		return time.Local
	}
	return loc
}

// ListenAddr returns host:port for the development server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

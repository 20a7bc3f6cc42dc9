package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: defaults are valid and point at a local backend
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if config.Backend.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("Unexpected default backend URL %q", config.Backend.BaseURL)
	}
	if config.Signaling.Transport != TransportHTTP {
		t.Errorf("Expected http signaling by default, got %q", config.Signaling.Transport)
	}
	if config.Signaling.Timeout <= 0 {
		t.Error("Signaling must be bounded by a timeout")
	}
	if config.Feed.Reconnect {
		t.Error("Feed reconnect should be off by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty backend URL", func(c *Config) { c.Backend.BaseURL = "" }},
		{"non-http backend URL", func(c *Config) { c.Backend.BaseURL = "ftp://example.com" }},
		{"unknown transport", func(c *Config) { c.Signaling.Transport = "pigeon" }},
		{"zero signaling timeout", func(c *Config) { c.Signaling.Timeout = 0 }},
		{"zero first frame timeout", func(c *Config) { c.Media.FirstFrameTimeout = 0 }},
		{"read timeout below ping", func(c *Config) { c.Feed.ReadTimeout = c.Feed.PingInterval }},
		{"bad reconnect delays", func(c *Config) {
			c.Feed.Reconnect = true
			c.Feed.ReconnectMaxDelay = c.Feed.ReconnectBaseDelay / 2
		}},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }},
		{"missing websocket section", func(c *Config) { c.WebSocket = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestBackendConfig_WebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080"},
		{"https://attend.example.edu/", "wss://attend.example.edu"},
		{"https://attend.example.edu/api", "wss://attend.example.edu/api"},
	}

	for _, tt := range tests {
		got, err := (&BackendConfig{BaseURL: tt.base}).WebSocketURL()
		if err != nil {
			t.Fatalf("WebSocketURL(%q) failed: %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

// FUNCTIONAL VALIDATION TEST: environment overrides defaults
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LIVEATTEND_BACKEND_URL", "https://attend.example.edu")
	t.Setenv("LIVEATTEND_SIGNALING_TRANSPORT", "socket")
	t.Setenv("LIVEATTEND_SIGNALING_TIMEOUT", "5s")
	t.Setenv("LIVEATTEND_SIGNALING_ICE_SERVERS", "stun:a:3478, stun:b:3478")
	t.Setenv("LIVEATTEND_FEED_RECONNECT", "true")
	t.Setenv("LIVEATTEND_HTTP_PORT", "9999")
	t.Setenv("LIVEATTEND_HTTP_READ_TIMEOUT", "not-a-duration")

	config := LoadFromEnv()

	if config.Backend.BaseURL != "https://attend.example.edu" {
		t.Errorf("Expected backend URL from env, got %q", config.Backend.BaseURL)
	}
	if config.Signaling.Transport != TransportSocket {
		t.Errorf("Expected socket transport, got %q", config.Signaling.Transport)
	}
	if config.Signaling.Timeout != 5*time.Second {
		t.Errorf("Expected 5s signaling timeout, got %v", config.Signaling.Timeout)
	}
	if len(config.Signaling.ICEServers) != 2 || config.Signaling.ICEServers[1] != "stun:b:3478" {
		t.Errorf("Unexpected ICE servers %v", config.Signaling.ICEServers)
	}
	if !config.Feed.Reconnect {
		t.Error("Expected feed reconnect from env")
	}
	if config.HTTP.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", config.HTTP.Port)
	}
	if config.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("Unparseable env value should keep default, got %v", config.HTTP.ReadTimeout)
	}
}

func TestConfig_LoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"backend": {"base_url": "http://10.0.0.5:8080", "request_timeout": "3s"},
		"signaling": {"transport": "socket", "ice_servers": []},
		"feed": {"buffer_size": 8, "time_layout": "3:04 PM"},
		"http": {"port": 7000}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Backend.BaseURL != "http://10.0.0.5:8080" || config.Backend.RequestTimeout != 3*time.Second {
		t.Errorf("Unexpected backend section %+v", config.Backend)
	}
	if len(config.Signaling.ICEServers) != 0 {
		t.Errorf("Explicit empty ICE server list should be kept, got %v", config.Signaling.ICEServers)
	}
	if config.Feed.BufferSize != 8 || config.Feed.TimeLayout != "3:04 PM" {
		t.Errorf("Unexpected feed section %+v", config.Feed)
	}
	if config.HTTP.Port != 7000 {
		t.Errorf("Expected port 7000, got %d", config.HTTP.Port)
	}
	if config.Database.Path != DefaultConfig().Database.Path {
		t.Error("Unset sections should keep defaults")
	}
}

func TestConfig_LoadFromFileYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backend:
  base_url: https://attend.example.edu
feed:
  reconnect: true
  reconnect_base_delay: 500ms
  reconnect_max_delay: 10s
database:
  path: /var/lib/liveattend/journal.db
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if !config.Feed.Reconnect || config.Feed.ReconnectBaseDelay != 500*time.Millisecond {
		t.Errorf("Unexpected feed section %+v", config.Feed)
	}
	if config.Database.Path != "/var/lib/liveattend/journal.db" {
		t.Errorf("Unexpected database path %q", config.Database.Path)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Missing file should fail")
	}

	bad := writeFile(t, "bad.json", `{"signaling": {"timeout": "soon"}}`)
	_, err := LoadFromFile(bad)
	if err == nil || !strings.Contains(err.Error(), "signaling.timeout") {
		t.Errorf("Expected duration error naming the field, got %v", err)
	}

	invalid := writeFile(t, "invalid.yaml", "signaling:\n  transport: carrier\n")
	if _, err := LoadFromFile(invalid); err == nil {
		t.Error("Invalid transport in file should fail validation")
	}
}

// FUNCTIONAL VALIDATION TEST: file > env > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("LIVEATTEND_BACKEND_URL", "http://from-env:8080")
	t.Setenv("LIVEATTEND_HTTP_PORT", "9100")

	path := writeFile(t, "config.json", `{"http": {"port": 9200}}`)

	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if config.HTTP.Port != 9200 {
		t.Errorf("File should win over env, got port %d", config.HTTP.Port)
	}
	if config.Backend.BaseURL != "http://from-env:8080" {
		t.Errorf("Env should win over defaults, got %q", config.Backend.BaseURL)
	}

	fallback, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Error("Missing file should be reported")
	}
	if fallback == nil || fallback.HTTP.Port != 9100 {
		t.Error("Missing file should fall back to the environment config")
	}

	noFile, err := LoadConfigWithPrecedence("")
	if err != nil || noFile.HTTP.Port != 9100 {
		t.Errorf("Empty path should use env config, got %v", err)
	}
}

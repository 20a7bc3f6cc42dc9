package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the controller's settings, grouped by component
type Config struct {
	Backend   *BackendConfig   `json:"backend"`
	Signaling *SignalingConfig `json:"signaling"`
	Media     *MediaConfig     `json:"media"`
	Feed      *FeedConfig      `json:"feed"`
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
}

// BackendConfig locates the remote attendance server
// FUNCTIONAL DISCOVERY: BaseURL is the one deployment-level setting; the
// signaling endpoint, live event feed and attendance queries all derive from it
type BackendConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// Signaling transports
const (
	TransportHTTP   = "http"
	TransportSocket = "socket"
)

type SignalingConfig struct {
	Transport  string        `json:"transport"`
	Timeout    time.Duration `json:"timeout"`
	ICEServers []string      `json:"ice_servers"`
}

type MediaConfig struct {
	FirstFrameTimeout time.Duration `json:"first_frame_timeout"`
}

// FeedConfig tunes the live event subscription
type FeedConfig struct {
	Reconnect          bool          `json:"reconnect"`
	ReconnectBaseDelay time.Duration `json:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `json:"reconnect_max_delay"`
	PingInterval       time.Duration `json:"ping_interval"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	BufferSize         int           `json:"buffer_size"`
	TimeLayout         string        `json:"time_layout"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// WebSocketConfig applies to observer streams served on /api/live/stream
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// DefaultConfig returns defaults for an instructor workstation talking to a
// backend on the same machine
func DefaultConfig() *Config {
	return &Config{
		Backend: &BackendConfig{
			BaseURL:        "http://127.0.0.1:8080",
			RequestTimeout: 10 * time.Second,
		},
		Signaling: &SignalingConfig{
			Transport:  TransportHTTP,
			Timeout:    15 * time.Second,
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		Media: &MediaConfig{
			FirstFrameTimeout: 20 * time.Second,
		},
		Feed: &FeedConfig{
			Reconnect:          false,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
			PingInterval:       30 * time.Second,
			ReadTimeout:        60 * time.Second,
			BufferSize:         64,
			TimeLayout:         "15:04:05",
		},
		Database: &DatabaseConfig{
			Path:    "./data/liveattend.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			Host:         "127.0.0.1",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Backend == nil {
		return fmt.Errorf("backend configuration is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL is invalid: %q", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend base URL must be http or https, got %q", u.Scheme)
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend request timeout must be positive")
	}

	if c.Signaling == nil {
		return fmt.Errorf("signaling configuration is required")
	}
	if c.Signaling.Transport != TransportHTTP && c.Signaling.Transport != TransportSocket {
		return fmt.Errorf("signaling transport must be %q or %q", TransportHTTP, TransportSocket)
	}
	if c.Signaling.Timeout <= 0 {
		return fmt.Errorf("signaling timeout must be positive")
	}

	if c.Media == nil {
		return fmt.Errorf("media configuration is required")
	}
	if c.Media.FirstFrameTimeout <= 0 {
		return fmt.Errorf("media first frame timeout must be positive")
	}

	if c.Feed == nil {
		return fmt.Errorf("feed configuration is required")
	}
	if c.Feed.PingInterval <= 0 || c.Feed.ReadTimeout <= 0 {
		return fmt.Errorf("feed ping interval and read timeout must be positive")
	}
	if c.Feed.ReadTimeout <= c.Feed.PingInterval {
		return fmt.Errorf("feed read timeout must exceed ping interval")
	}
	if c.Feed.BufferSize <= 0 {
		return fmt.Errorf("feed buffer size must be positive")
	}
	if c.Feed.Reconnect && (c.Feed.ReconnectBaseDelay <= 0 || c.Feed.ReconnectMaxDelay < c.Feed.ReconnectBaseDelay) {
		return fmt.Errorf("feed reconnect delays must be positive with max >= base")
	}
	if c.Feed.TimeLayout == "" {
		return fmt.Errorf("feed time layout cannot be empty")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	return nil
}

// WebSocketURL returns the backend base URL with its scheme switched to
// ws or wss
func (b *BackendConfig) WebSocketURL() (string, error) {
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

const envPrefix = "LIVEATTEND_"

// LoadFromEnv returns defaults overridden by LIVEATTEND_* variables.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("BACKEND_URL", &config.Backend.BaseURL)
	envDuration("BACKEND_REQUEST_TIMEOUT", &config.Backend.RequestTimeout)

	envString("SIGNALING_TRANSPORT", &config.Signaling.Transport)
	envDuration("SIGNALING_TIMEOUT", &config.Signaling.Timeout)
	if servers, ok := os.LookupEnv(envPrefix + "SIGNALING_ICE_SERVERS"); ok {
		config.Signaling.ICEServers = splitList(servers)
	}

	envDuration("MEDIA_FIRST_FRAME_TIMEOUT", &config.Media.FirstFrameTimeout)

	envBool("FEED_RECONNECT", &config.Feed.Reconnect)
	envDuration("FEED_RECONNECT_BASE_DELAY", &config.Feed.ReconnectBaseDelay)
	envDuration("FEED_RECONNECT_MAX_DELAY", &config.Feed.ReconnectMaxDelay)
	envDuration("FEED_PING_INTERVAL", &config.Feed.PingInterval)
	envDuration("FEED_READ_TIMEOUT", &config.Feed.ReadTimeout)
	envInt("FEED_BUFFER_SIZE", &config.Feed.BufferSize)

	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the on-disk shape; durations are strings such as "15s"
type ConfigFile struct {
	Backend *struct {
		BaseURL        string `json:"base_url" yaml:"base_url"`
		RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
	} `json:"backend" yaml:"backend"`
	Signaling *struct {
		Transport  string   `json:"transport" yaml:"transport"`
		Timeout    string   `json:"timeout" yaml:"timeout"`
		ICEServers []string `json:"ice_servers" yaml:"ice_servers"`
	} `json:"signaling" yaml:"signaling"`
	Media *struct {
		FirstFrameTimeout string `json:"first_frame_timeout" yaml:"first_frame_timeout"`
	} `json:"media" yaml:"media"`
	Feed *struct {
		Reconnect          *bool  `json:"reconnect" yaml:"reconnect"`
		ReconnectBaseDelay string `json:"reconnect_base_delay" yaml:"reconnect_base_delay"`
		ReconnectMaxDelay  string `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`
		PingInterval       string `json:"ping_interval" yaml:"ping_interval"`
		ReadTimeout        string `json:"read_timeout" yaml:"read_timeout"`
		BufferSize         int    `json:"buffer_size" yaml:"buffer_size"`
		TimeLayout         string `json:"time_layout" yaml:"time_layout"`
	} `json:"feed" yaml:"feed"`
	Database *struct {
		Path    string `json:"path" yaml:"path"`
		Timeout string `json:"timeout" yaml:"timeout"`
	} `json:"database" yaml:"database"`
	HTTP *struct {
		Port         int    `json:"port" yaml:"port"`
		ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
		Host         string `json:"host" yaml:"host"`
	} `json:"http" yaml:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval" yaml:"ping_interval"`
		ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
		BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
	} `json:"websocket" yaml:"websocket"`
}

// LoadFromFile reads a JSON or YAML file (by extension) over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []string
	duration := func(field, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}
	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	num := func(v int, dst *int) {
		if v > 0 {
			*dst = v
		}
	}

	if f := file.Backend; f != nil {
		str(f.BaseURL, &config.Backend.BaseURL)
		duration("backend.request_timeout", f.RequestTimeout, &config.Backend.RequestTimeout)
	}
	if f := file.Signaling; f != nil {
		str(f.Transport, &config.Signaling.Transport)
		duration("signaling.timeout", f.Timeout, &config.Signaling.Timeout)
		if f.ICEServers != nil {
			config.Signaling.ICEServers = f.ICEServers
		}
	}
	if f := file.Media; f != nil {
		duration("media.first_frame_timeout", f.FirstFrameTimeout, &config.Media.FirstFrameTimeout)
	}
	if f := file.Feed; f != nil {
		if f.Reconnect != nil {
			config.Feed.Reconnect = *f.Reconnect
		}
		duration("feed.reconnect_base_delay", f.ReconnectBaseDelay, &config.Feed.ReconnectBaseDelay)
		duration("feed.reconnect_max_delay", f.ReconnectMaxDelay, &config.Feed.ReconnectMaxDelay)
		duration("feed.ping_interval", f.PingInterval, &config.Feed.PingInterval)
		duration("feed.read_timeout", f.ReadTimeout, &config.Feed.ReadTimeout)
		num(f.BufferSize, &config.Feed.BufferSize)
		str(f.TimeLayout, &config.Feed.TimeLayout)
	}
	if f := file.Database; f != nil {
		str(f.Path, &config.Database.Path)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}
	if f := file.HTTP; f != nil {
		num(f.Port, &config.HTTP.Port)
		str(f.Host, &config.HTTP.Host)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		num(f.BufferSize, &config.WebSocket.BufferSize)
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", path, strings.Join(errs, "; "))
	}
	return nil
}

// LoadConfigWithPrecedence layers file over environment over defaults.
// A missing or invalid file is reported and the environment config is used.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path == "" {
		return config, nil
	}

	layered := LoadFromEnv()
	if err := applyFile(layered, path); err != nil {
		return config, err
	}
	if err := layered.Validate(); err != nil {
		return config, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return layered, nil
}

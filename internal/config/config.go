package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Overflow policies for a connection's outbound queue.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// Config is the full runtime configuration of the hub process.
// ARCHITECTURAL DISCOVERY: one typed struct per concern, assembled from
// defaults, then environment, then an optional JSON file
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Hub       *HubConfig       `json:"hub"`
	Auth      *AuthConfig      `json:"auth"`
	Redis     *RedisConfig     `json:"redis"`
	Status    *StatusConfig    `json:"status"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	RetryDelay     time.Duration `json:"retry_delay"`
	MigrationsPath string        `json:"migrations_path"` // empty uses the embedded migrations
}

type HTTPConfig struct {
	Port           int           `json:"port"`
	Host           string        `json:"host"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// FUNCTIONAL DISCOVERY: BufferSize bounds each connection's outbound queue;
// OverflowPolicy decides what happens when a slow reader fills it
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	OverflowPolicy string        `json:"overflow_policy"`
	MaxMessageSize int64         `json:"max_message_size"`
}

type HubConfig struct {
	MaxRoomSize   int           `json:"max_room_size"`
	InboxSize     int           `json:"inbox_size"`
	CursorTTL     time.Duration `json:"cursor_ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
	RateLimit     int           `json:"rate_limit"` // messages per connection per RateWindow
	RateWindow    time.Duration `json:"rate_window"`
}

type AuthConfig struct {
	Secret         string        `json:"-"`
	AccessCacheTTL time.Duration `json:"access_cache_ttl"`
}

// RedisConfig is optional; an empty Addr disables the Redis presence sink.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type StatusConfig struct {
	QueueSize    int           `json:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// DefaultConfig returns settings suitable for a single-host deployment.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:       "./boardhub.db",
			Timeout:    30 * time.Second,
			RetryDelay: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			OverflowPolicy: OverflowDropOldest,
			MaxMessageSize: 1 << 20,
		},
		Hub: &HubConfig{
			MaxRoomSize:   50,
			InboxSize:     256,
			CursorTTL:     5 * time.Second,
			SweepInterval: time.Second,
			RateLimit:     600,
			RateWindow:    time.Minute,
		},
		Auth: &AuthConfig{
			AccessCacheTTL: 30 * time.Second,
		},
		Redis: &RedisConfig{},
		Status: &StatusConfig{
			QueueSize:    1024,
			WriteTimeout: 5 * time.Second,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Hub == nil ||
		c.Auth == nil || c.Redis == nil || c.Status == nil || c.Log == nil {
		return fmt.Errorf("all configuration sections are required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	// Port 0 asks the OS for a free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.OverflowPolicy != OverflowDropOldest && c.WebSocket.OverflowPolicy != OverflowDisconnect {
		return fmt.Errorf("WebSocket overflow policy must be %q or %q", OverflowDropOldest, OverflowDisconnect)
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Hub.MaxRoomSize < 0 {
		return fmt.Errorf("max room size cannot be negative")
	}
	if c.Hub.InboxSize <= 0 {
		return fmt.Errorf("hub inbox size must be positive")
	}
	if c.Hub.CursorTTL < 0 || c.Hub.SweepInterval < 0 {
		return fmt.Errorf("cursor TTL and sweep interval cannot be negative")
	}
	if c.Hub.RateLimit < 0 || (c.Hub.RateLimit > 0 && c.Hub.RateWindow <= 0) {
		return fmt.Errorf("rate limit requires a positive window")
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required (AUTH_SECRET)")
	}

	if c.Status.QueueSize <= 0 {
		return fmt.Errorf("status queue size must be positive")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	return nil
}

// Address returns the listen address for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays environment variables on the defaults. Unparseable
// values are ignored and the default is kept.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envInt("WS_PORT", &config.HTTP.Port)
	envString("BOARDHUB_HTTP_HOST", &config.HTTP.Host)
	envDuration("BOARDHUB_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("BOARDHUB_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	if origins := os.Getenv("BOARDHUB_ALLOWED_ORIGINS"); origins != "" {
		config.HTTP.AllowedOrigins = splitList(origins)
	}

	envString("BOARDHUB_DATABASE_PATH", &config.Database.Path)
	envDuration("BOARDHUB_DATABASE_TIMEOUT", &config.Database.Timeout)
	envString("BOARDHUB_MIGRATIONS_PATH", &config.Database.MigrationsPath)

	envDuration("BOARDHUB_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("BOARDHUB_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("BOARDHUB_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("BOARDHUB_OUTBOUND_QUEUE", &config.WebSocket.BufferSize)
	envString("BOARDHUB_OVERFLOW_POLICY", &config.WebSocket.OverflowPolicy)

	envInt("BOARDHUB_MAX_ROOM_SIZE", &config.Hub.MaxRoomSize)
	envDuration("BOARDHUB_CURSOR_TTL", &config.Hub.CursorTTL)
	envInt("BOARDHUB_RATE_LIMIT", &config.Hub.RateLimit)

	envString("AUTH_SECRET", &config.Auth.Secret)

	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envInt("REDIS_DB", &config.Redis.DB)

	envString("BOARDHUB_LOG_LEVEL", &config.Log.Level)
	if dev := os.Getenv("BOARDHUB_LOG_DEVELOPMENT"); dev != "" {
		if b, err := strconv.ParseBool(dev); err == nil {
			config.Log.Development = b
		}
	}

	return config
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
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

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Hub       *HubConfigFile       `json:"hub"`
	Redis     *RedisConfig         `json:"redis"`
	Status    *StatusConfigFile    `json:"status"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	Timeout        string `json:"timeout"`
	RetryDelay     string `json:"retry_delay"`
	MigrationsPath string `json:"migrations_path"`
}

type HTTPConfigFile struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	OverflowPolicy string `json:"overflow_policy"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type HubConfigFile struct {
	MaxRoomSize   *int   `json:"max_room_size"`
	InboxSize     int    `json:"inbox_size"`
	CursorTTL     string `json:"cursor_ttl"`
	SweepInterval string `json:"sweep_interval"`
	RateLimit     *int   `json:"rate_limit"`
	RateWindow    string `json:"rate_window"`
	AccessTTL     string `json:"access_cache_ttl"`
}

type StatusConfigFile struct {
	QueueSize    int    `json:"queue_size"`
	WriteTimeout string `json:"write_timeout"`
}

// LoadFromFile reads a JSON config file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := ApplyFile(config, filepath); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyFile overlays the non-empty fields of a JSON config file on config.
// The auth secret is never read from a file.
func ApplyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var errs []string
	duration := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		if f.MigrationsPath != "" {
			config.Database.MigrationsPath = f.MigrationsPath
		}
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
		duration("database.retry_delay", f.RetryDelay, &config.Database.RetryDelay)
	}

	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if len(f.AllowedOrigins) > 0 {
			config.HTTP.AllowedOrigins = f.AllowedOrigins
		}
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.OverflowPolicy != "" {
			config.WebSocket.OverflowPolicy = f.OverflowPolicy
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if f := file.Hub; f != nil {
		if f.MaxRoomSize != nil {
			config.Hub.MaxRoomSize = *f.MaxRoomSize
		}
		if f.InboxSize > 0 {
			config.Hub.InboxSize = f.InboxSize
		}
		if f.RateLimit != nil {
			config.Hub.RateLimit = *f.RateLimit
		}
		duration("hub.cursor_ttl", f.CursorTTL, &config.Hub.CursorTTL)
		duration("hub.sweep_interval", f.SweepInterval, &config.Hub.SweepInterval)
		duration("hub.rate_window", f.RateWindow, &config.Hub.RateWindow)
		duration("hub.access_cache_ttl", f.AccessTTL, &config.Auth.AccessCacheTTL)
	}

	if f := file.Redis; f != nil && f.Addr != "" {
		config.Redis.Addr = f.Addr
		config.Redis.DB = f.DB
	}

	if f := file.Status; f != nil {
		if f.QueueSize > 0 {
			config.Status.QueueSize = f.QueueSize
		}
		duration("status.write_timeout", f.WriteTimeout, &config.Status.WriteTimeout)
	}

	if f := file.Log; f != nil {
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		config.Log.Development = config.Log.Development || f.Development
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", filepath, strings.Join(errs, "; "))
	}
	return nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults and
// validates the result. filepath may be empty.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath != "" {
		if err := ApplyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

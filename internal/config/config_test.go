package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Auth.Secret = "secret"
	return c
}

func TestConfig_DefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, 5*time.Second, c.Hub.CursorTTL)
	assert.Equal(t, OverflowDropOldest, c.WebSocket.OverflowPolicy)
	assert.Empty(t, c.Redis.Addr)

	// Defaults are complete except for the secret.
	assert.Error(t, c.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"read timeout under ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"unknown overflow policy", func(c *Config) { c.WebSocket.OverflowPolicy = "block" }},
		{"negative room size", func(c *Config) { c.Hub.MaxRoomSize = -1 }},
		{"rate limit without window", func(c *Config) { c.Hub.RateWindow = 0 }},
		{"missing section", func(c *Config) { c.Redis = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("WS_PORT", "9001")
	t.Setenv("AUTH_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("BOARDHUB_MAX_ROOM_SIZE", "12")
	t.Setenv("BOARDHUB_CURSOR_TTL", "3s")
	t.Setenv("BOARDHUB_OVERFLOW_POLICY", OverflowDisconnect)
	t.Setenv("BOARDHUB_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BOARDHUB_OUTBOUND_QUEUE", "not-a-number")

	c := LoadFromEnv()
	assert.Equal(t, 9001, c.HTTP.Port)
	assert.Equal(t, "env-secret", c.Auth.Secret)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, 12, c.Hub.MaxRoomSize)
	assert.Equal(t, 3*time.Second, c.Hub.CursorTTL)
	assert.Equal(t, OverflowDisconnect, c.WebSocket.OverflowPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.HTTP.AllowedOrigins)
	assert.Equal(t, 256, c.WebSocket.BufferSize, "unparseable values keep the default")
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardhub.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, `{
		"http": {"port": 9100, "allowed_origins": ["https://board.example"]},
		"websocket": {"ping_interval": "10s", "read_timeout": "25s", "buffer_size": 32},
		"hub": {"max_room_size": 0, "cursor_ttl": "2s"},
		"log": {"level": "debug"}
	}`)

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, c.HTTP.Port)
	assert.Equal(t, 10*time.Second, c.WebSocket.PingInterval)
	assert.Equal(t, 32, c.WebSocket.BufferSize)
	assert.Equal(t, 0, c.Hub.MaxRoomSize)
	assert.Equal(t, 2*time.Second, c.Hub.CursorTTL)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, `{not json`))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, `{"hub": {"cursor_ttl": "soon"}}`))
	assert.Error(t, err)
}

func TestConfig_Precedence(t *testing.T) {
	t.Setenv("AUTH_SECRET", "env-secret")
	t.Setenv("WS_PORT", "9001")
	t.Setenv("BOARDHUB_DATABASE_PATH", "/tmp/env.db")

	path := writeFile(t, `{"http": {"port": 9200}}`)
	c, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, c.HTTP.Port, "file wins over env")
	assert.Equal(t, "/tmp/env.db", c.Database.Path, "env wins over defaults")
	assert.Equal(t, "env-secret", c.Auth.Secret)

	c, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 9001, c.HTTP.Port)
}

func TestConfig_PrecedenceRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	_, err := LoadConfigWithPrecedence("")
	assert.Error(t, err)
}

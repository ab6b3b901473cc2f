package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardhub/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.Secret = "app-test-secret"
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Secret = ""

	app, err := NewApplication(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestApplication_StartServeStop(t *testing.T) {
	app, err := NewApplication(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", app.Addr())
	assert.NotNil(t, app.Database())

	require.NoError(t, app.Start(context.Background()))
	assert.NotEqual(t, "127.0.0.1:0", app.Addr(), "bound address is reported after Start")

	resp, err := http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))

	select {
	case err, ok := <-app.Errors():
		assert.False(t, ok, "serve error channel closes without an error, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit")
	}

	// A second Stop is harmless.
	assert.NoError(t, app.Stop(ctx))
}

func TestApplication_StartFailsOnBusyPort(t *testing.T) {
	first, err := NewApplication(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	defer func() { _ = first.Stop(context.Background()) }()

	cfg := testConfig(t)
	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	cfg.HTTP.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	second, err := NewApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	err = second.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	_ = second.Stop(context.Background())
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardhub/pkg/types"
)

func TestBackoff_Next(t *testing.T) {
	half := func() float64 { return 0.5 }
	b := Backoff{Rand: half}

	assert.Equal(t, 250*time.Millisecond, b.Next(0))
	assert.Equal(t, 500*time.Millisecond, b.Next(1))
	assert.Equal(t, time.Second, b.Next(2))
	assert.Equal(t, 15*time.Second, b.Next(10), "capped at Max")
	assert.Equal(t, 15*time.Second, b.Next(200), "large attempts do not overflow")
	assert.Equal(t, 250*time.Millisecond, b.Next(-3))

	custom := Backoff{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond, Rand: func() float64 { return 0 }}
	assert.Zero(t, custom.Next(5))

	for i := 0; i < 50; i++ {
		d := Backoff{}.Next(3)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 8*DefaultBackoffBase)
	}
}

func TestBackoff_Stable(t *testing.T) {
	assert.False(t, Backoff{}.Stable(time.Second))
	assert.True(t, Backoff{}.Stable(DefaultBackoffResetAfter))
	assert.True(t, Backoff{ResetAfter: 50 * time.Millisecond}.Stable(60*time.Millisecond))
	assert.False(t, Backoff{ResetAfter: 50 * time.Millisecond}.Stable(10*time.Millisecond))
}

func TestNew_ResolvesURL(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		env  string
		want string
		err  error
	}{
		{name: "explicit url", opts: Options{URL: "http://localhost:8080/ws"}, want: "ws://localhost:8080/ws"},
		{name: "explicit wss", opts: Options{URL: "wss://hub.example.com/ws"}, want: "wss://hub.example.com/ws"},
		{name: "host with tls", opts: Options{Host: "hub.example.com:9000", TLS: true}, want: "wss://hub.example.com:9000/ws"},
		{name: "host from env", env: "board.example.com", want: "ws://board.example.com/ws"},
		{name: "env with scheme", env: "https://board.example.com/", want: "wss://board.example.com/ws"},
		{name: "option wins over env", opts: Options{Host: "a:1"}, env: "b:2", want: "ws://a:1/ws"},
		{name: "no host", err: ErrNoHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(HostEnv, tt.env)
			c, err := New(tt.opts)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.URL())
			assert.NotEmpty(t, c.ID())
		})
	}
}

// flakyHub drops the first connection right after the join, then answers
// with a snapshot and echoes every frame.
type flakyHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	joins    []types.JoinWhiteboard
}

func (h *flakyHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var env types.Envelope
	var join types.JoinWhiteboard
	if json.Unmarshal(data, &env) != nil || env.Type != types.MessageTypeJoinWhiteboard ||
		json.Unmarshal(env.Payload, &join) != nil {
		return
	}

	h.mu.Lock()
	h.joins = append(h.joins, join)
	n := len(h.joins)
	h.mu.Unlock()
	if n == 1 {
		return
	}

	frame, _ := types.EncodeEnvelope(types.MessageTypeSyncResponse, types.SyncResponsePayload{UserRole: types.RoleEditor})
	if conn.WriteMessage(websocket.TextMessage, frame) != nil {
		return
	}
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if conn.WriteMessage(mt, data) != nil {
			return
		}
	}
}

func (h *flakyHub) joinCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.joins)
}

func receive(t *testing.T, c *Client) *types.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Messages():
		require.True(t, ok, "messages closed")
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestClient_ReconnectsAndRejoins(t *testing.T) {
	hub := &flakyHub{}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c, err := New(Options{
		URL:          srv.URL + "/ws",
		WhiteboardID: "B1",
		Token:        "tok",
		Backoff:      Backoff{Rand: func() float64 { return 0 }},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(types.MessageTypeSyncRequest, nil), ErrNotConnected)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	env := receive(t, c)
	assert.Equal(t, types.MessageTypeSyncResponse, env.Type)
	require.Equal(t, 2, hub.joinCount(), "join is re-sent after the reconnect")
	hub.mu.Lock()
	for _, join := range hub.joins {
		assert.Equal(t, types.JoinWhiteboard{WhiteboardID: "B1", Token: "tok"}, join)
	}
	hub.mu.Unlock()

	assert.True(t, c.Connected())
	require.NoError(t, c.Send(types.MessageTypeCursorMove, types.CursorMove{X: 3, Y: 4}))
	env = receive(t, c)
	assert.Equal(t, types.MessageTypeCursorMove, env.Type)
	assert.JSONEq(t, `{"x":3,"y":4}`, string(env.Payload))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	for range c.Messages() {
	}

	assert.ErrorIs(t, c.Send(types.MessageTypeSyncRequest, nil), ErrClosed)
	assert.ErrorIs(t, c.Run(context.Background()), ErrClosed)
}

func TestClient_RunStopsOnContextWhileUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{URL: url, WhiteboardID: "B1", Backoff: Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err = c.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.False(t, c.Connected())
}

func TestClient_RunTwice(t *testing.T) {
	srv := httptest.NewServer(&flakyHub{})
	defer srv.Close()

	c, err := New(Options{URL: srv.URL + "/ws", Backoff: Backoff{Rand: func() float64 { return 0 }}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	receive(t, c)

	assert.ErrorIs(t, c.Run(ctx), ErrAlreadyRunning)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestClient_ImmediateDropsKeepBackingOff(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		dials++
		mu.Unlock()
		_ = conn.Close()
	}))
	defer srv.Close()

	c, err := New(Options{
		URL:     srv.URL + "/ws",
		Backoff: Backoff{Base: 20 * time.Millisecond, Max: time.Second, Rand: func() float64 { return 1 }},
	})
	require.NoError(t, err)

	// Delays of 20, 40, 80 and 160ms leave room for at most five dials.
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, dials, 2)
	assert.LessOrEqual(t, dials, 5)
}

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardhub/pkg/interfaces"
)

// echoRouter echoes every frame back, and closes the connection on "bye".
type echoRouter struct {
	mu     sync.Mutex
	closed []string
}

func (r *echoRouter) Connect(conn interfaces.Connection) interfaces.ClientSession {
	return &echoSession{router: r, conn: conn}
}

func (r *echoRouter) closedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closed)
}

type echoSession struct {
	router *echoRouter
	conn   interfaces.Connection
}

func (s *echoSession) HandleMessage(_ context.Context, data []byte) {
	if string(data) == "bye" {
		_ = s.conn.Close()
		return
	}
	_ = s.conn.Send(data)
}

func (s *echoSession) Close(context.Context) {
	s.router.mu.Lock()
	defer s.router.mu.Unlock()
	s.router.closed = append(s.router.closed, s.conn.ID())
}

func startServer(t *testing.T, opts Options) (*httptest.Server, *Registry, *echoRouter) {
	t.Helper()
	router := &echoRouter{}
	registry := NewRegistry()
	srv := httptest.NewServer(NewHandler(router, registry, opts, zap.NewNop()))
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return srv, registry, router
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandler_EchoAndCleanup(t *testing.T) {
	srv, registry, router := startServer(t, DefaultOptions())
	client := dial(t, srv, nil)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"sync_request"}`)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync_request"}`, string(data))
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool {
		return registry.Len() == 0 && router.closedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ServerCloseIsNormalClosure(t *testing.T) {
	srv, registry, router := startServer(t, DefaultOptions())
	client := dial(t, srv, nil)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("bye")))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool {
		return registry.Len() == 0 && router.closedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_CloseAllSendsGoingAway(t *testing.T) {
	srv, registry, _ := startServer(t, DefaultOptions())
	client := dial(t, srv, nil)

	require.Eventually(t, func() bool { return registry.Len() == 1 }, time.Second, 10*time.Millisecond)
	registry.CloseAll()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHandler_OriginCheck(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://app.example.com/"}
	srv, _, _ := startServer(t, opts)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, srv, http.Header{"Origin": {"https://APP.example.com"}})
	dial(t, srv, nil)
}

func TestHandler_ReadLimitClosesConnection(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMessageSize = 16
	srv, registry, router := startServer(t, opts)
	client := dial(t, srv, nil)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)

	assert.Eventually(t, func() bool {
		return registry.Len() == 0 && router.closedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_SendsPings(t *testing.T) {
	opts := DefaultOptions()
	opts.PingInterval = 20 * time.Millisecond
	srv, _, _ := startServer(t, opts)
	client := dial(t, srv, nil)

	var pings int32
	client.SetPingHandler(func(string) error {
		atomic.AddInt32(&pings, 1)
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&pings) >= 2 }, 2*time.Second, 10*time.Millisecond)
}

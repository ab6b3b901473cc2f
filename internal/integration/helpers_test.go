package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardhub/internal/app"
	"boardhub/internal/auth"
	"boardhub/internal/config"
	"boardhub/pkg/types"
)

const testSecret = "integration-secret"

type testEnv struct {
	app   *app.Application
	redis *miniredis.Miniredis
	base  string
}

// startApp runs the full application on a free port with a temp database
// and an in-memory Redis, seeded with:
//
//	B1 public, owner u1, explicit editor u2
//	B2 private, owner u4
func startApp(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "boardhub.db")
	cfg.Database.RetryDelay = 10 * time.Millisecond
	cfg.Auth.Secret = testSecret
	cfg.Redis.Addr = mr.Addr()
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	ctx := context.Background()
	db := application.Database()
	for _, u := range []types.User{
		{ID: "u1", Name: "Una"}, {ID: "u2", Name: "Dos"}, {ID: "u3", Name: "Tres"},
		{ID: "u4", Name: "Cuatro"}, {ID: "u5", Name: "Cinco"},
	} {
		u := u
		require.NoError(t, db.CreateUser(ctx, &u))
	}
	require.NoError(t, db.CreateWhiteboard(ctx, &types.Whiteboard{ID: "B1", Title: "Public", CreatedBy: "u1", IsPublic: true}))
	require.NoError(t, db.CreateWhiteboard(ctx, &types.Whiteboard{ID: "B2", Title: "Private", CreatedBy: "u4"}))
	require.NoError(t, db.AddParticipant(ctx, &types.WhiteboardParticipant{WhiteboardID: "B1", UserID: "u2", Role: types.RoleEditor}))

	return &testEnv{app: application, redis: mr, base: "http://" + application.Addr()}
}

type client struct {
	t    *testing.T
	name string
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, name string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.app.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, name: name, conn: conn}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, types.User{ID: userID}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (c *client) send(msgType string, payload interface{}) {
	c.t.Helper()
	frame, err := types.EncodeEnvelope(msgType, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *client) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// next reads one envelope and requires its type.
func (c *client) next(wantType string, payload interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err, "%s waiting for %s", c.name, wantType)

	var env types.Envelope
	require.NoError(c.t, json.Unmarshal(data, &env))
	require.Equal(c.t, wantType, env.Type, "%s got %s", c.name, data)
	if payload != nil {
		require.NoError(c.t, json.Unmarshal(env.Payload, payload))
	}
}

func (c *client) join(userID, whiteboardID string) types.SyncResponsePayload {
	c.t.Helper()
	c.send(types.MessageTypeJoinWhiteboard, types.JoinWhiteboard{WhiteboardID: whiteboardID, Token: token(c.t, userID)})
	var snapshot types.SyncResponsePayload
	c.next(types.MessageTypeSyncResponse, &snapshot)
	return snapshot
}

func (c *client) expectError(message string) {
	c.t.Helper()
	var payload types.ErrorPayload
	c.next(types.MessageTypeError, &payload)
	require.Equal(c.t, message, payload.Message)
}

func (e *testEnv) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(e.base + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var body json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

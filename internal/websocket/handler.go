package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardhub/internal/metrics"
	"boardhub/pkg/interfaces"
)

// sessionCloseTimeout bounds disconnect cleanup once the socket is gone.
const sessionCloseTimeout = 5 * time.Second

// Handler upgrades HTTP requests and runs the read side of each connection.
// ARCHITECTURAL DISCOVERY: authentication happens inside the first
// join_whiteboard frame, not at the handshake, so the upgrade itself only
// checks the origin
type Handler struct {
	router   interfaces.MessageRouter
	registry *Registry
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(router interfaces.MessageRouter, registry *Registry, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		router:   router,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Debug("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.opts, h.logger)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("Failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	metrics.ConnectionOpened()
	h.logger.Debug("Connection opened",
		zap.String("connection_id", conn.ID()),
		zap.String("remote_addr", r.RemoteAddr))

	go h.handleConnection(ws, conn)
}

// handleConnection is the read pump. Frames are handed to the session one at
// a time, which is what keeps a single client's messages in receipt order.
func (h *Handler) handleConnection(ws *websocket.Conn, conn *Connection) {
	session := h.router.Connect(conn)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		session.Close(ctx)
		cancel()

		_ = conn.Close()
		h.registry.Unregister(conn)
		metrics.ConnectionClosed()
		h.logger.Debug("Connection closed", zap.String("connection_id", conn.ID()))
	}()

	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}
	if err := h.extendReadDeadline(ws); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return h.extendReadDeadline(ws)
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("WebSocket read error", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if err := h.extendReadDeadline(ws); err != nil {
			return
		}

		session.HandleMessage(conn.Context(), data)
		if !conn.IsOpen() {
			return
		}
	}
}

func (h *Handler) extendReadDeadline(ws *websocket.Conn) error {
	if h.opts.ReadTimeout <= 0 {
		return nil
	}
	return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
}

// checkOrigin allows requests without an Origin header (non-browser clients),
// any origin when the allow-list is empty or holds "*", and otherwise only
// exact scheme://host matches.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	normalized := strings.ToLower(u.Scheme + "://" + u.Host)

	for _, allowed := range h.opts.AllowedOrigins {
		allowed = strings.TrimRight(strings.ToLower(strings.TrimSpace(allowed)), "/")
		if allowed == "*" || allowed == normalized {
			return true
		}
	}
	h.logger.Info("Rejected websocket origin", zap.String("origin", origin))
	return false
}

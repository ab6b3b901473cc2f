package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardhub/internal/metrics"
)

// OverflowPolicy selects what Send does when the outbound queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest discards the oldest queued frame to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowDisconnect closes the connection with a policy-violation frame.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// Options configures every connection accepted by a Handler.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	OverflowPolicy OverflowPolicy
	MaxMessageSize int64
	AllowedOrigins []string
}

// DefaultOptions returns production transport settings
// TECHNICAL DISCOVERY: the ping interval must stay well under the read
// timeout or idle but healthy peers get dropped
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     256,
		OverflowPolicy: OverflowDropOldest,
		MaxMessageSize: 1 << 20,
	}
}

// Connection implements interfaces.Connection over a gorilla websocket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// and ping goes through writeLoop; Send only enqueues and never touches the socket
type Connection struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex // serializes enqueue so drop-oldest cannot interleave
	closeOnce sync.Once
	closeCode int
	closeText string
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, opts Options, logger *zap.Logger) *Connection {
	c := newConnection(conn, opts, logger)
	go c.writeLoop()
	return c
}

func newConnection(conn *websocket.Conn, opts Options, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.OverflowPolicy == "" {
		opts.OverflowPolicy = OverflowDropOldest
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:        id,
		conn:      conn,
		send:      make(chan []byte, opts.BufferSize),
		opts:      opts,
		logger:    logger.With(zap.String("connection_id", id)),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// ID implements interfaces.Connection.
func (c *Connection) ID() string { return c.id }

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed once the writer has sent the close frame and released the socket.
func (c *Connection) Done() <-chan struct{} { return c.done }

// IsOpen implements interfaces.Connection.
func (c *Connection) IsOpen() bool {
	return c.ctx.Err() == nil
}

// Send implements interfaces.Connection. It never blocks: when the queue is
// full the overflow policy decides between dropping the oldest frame and
// disconnecting the peer.
func (c *Connection) Send(frame []byte) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case c.send <- frame:
		return nil
	default:
	}

	metrics.MessageDropped()
	if c.opts.OverflowPolicy == OverflowDisconnect {
		c.logger.Warn("Outbound queue full, disconnecting slow peer", zap.Int("queue_size", cap(c.send)))
		c.closeWith(websocket.ClosePolicyViolation, "outbound queue overflow")
		return ErrQueueOverflow
	}

	// FUNCTIONAL DISCOVERY: a stale cursor or element frame is worth less than
	// the newest one; the client resyncs with sync_request if it cares
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
	c.logger.Debug("Outbound queue full, dropped oldest frame")
	return nil
}

// Close implements interfaces.Connection with a normal-closure frame.
func (c *Connection) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// closeWith records the close frame and stops the writer, which sends it.
func (c *Connection) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.cancel()
	})
}

// writeLoop is the only goroutine that writes to the socket.
func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout()))
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout())); err != nil {
				c.closeWith(websocket.CloseInternalServerErr, "")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Write failed, closing connection", zap.Error(err))
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout())); err != nil {
				c.logger.Debug("Ping failed, closing connection", zap.Error(err))
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) writeTimeout() time.Duration {
	if c.opts.WriteTimeout > 0 {
		return c.opts.WriteTimeout
	}
	return DefaultOptions().WriteTimeout
}

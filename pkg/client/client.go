// Package client is a Go client for the boardhub websocket protocol. It
// dials the hub, joins one whiteboard, and keeps the session alive across
// disconnects by redialing with backoff and re-sending the join.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardhub/pkg/types"
)

// HostEnv names the environment variable consulted when no host is given.
const HostEnv = "NEXT_PUBLIC_WS_HOST"

var (
	ErrNoHost         = errors.New("no websocket host configured")
	ErrNotConnected   = errors.New("client is not connected")
	ErrClosed         = errors.New("client is closed")
	ErrAlreadyRunning = errors.New("client is already running")
)

type Options struct {
	// URL is the full websocket URL. When set, Host and TLS are ignored.
	URL string
	// Host is host[:port]; defaults to $NEXT_PUBLIC_WS_HOST.
	Host string
	// TLS selects wss over ws.
	TLS bool

	WhiteboardID string
	Token        string

	Backoff    Backoff
	BufferSize int
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Client holds at most one live connection at a time. Run owns the
// connection lifecycle; Send may be called from any goroutine.
type Client struct {
	id     string
	url    string
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	messages chan *types.Envelope
	done     chan struct{}

	mu      sync.Mutex // guards conn, running and closed
	writeMu sync.Mutex // gorilla allows one concurrent writer
	conn    *websocket.Conn
	running bool
	closed  bool
	once    sync.Once
}

// New resolves the target URL but does not dial.
func New(opts Options) (*Client, error) {
	target, err := resolveURL(opts)
	if err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Client{
		id:       id,
		url:      target,
		opts:     opts,
		dialer:   dialer,
		logger:   logger.With(zap.String("client_id", id), zap.String("whiteboard_id", opts.WhiteboardID)),
		messages: make(chan *types.Envelope, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

func resolveURL(opts Options) (string, error) {
	if opts.URL != "" {
		u, err := url.Parse(opts.URL)
		if err != nil {
			return "", fmt.Errorf("invalid websocket URL: %w", err)
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		return u.String(), nil
	}

	host := opts.Host
	if host == "" {
		host = os.Getenv(HostEnv)
	}
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if host == "" {
		return "", ErrNoHost
	}
	if strings.Contains(host, "://") {
		return resolveURL(Options{URL: host + "/ws"})
	}

	scheme := "ws"
	if opts.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws"}
	return u.String(), nil
}

// ID is a random per-process identifier used only for logging.
func (c *Client) ID() string { return c.id }

// URL is the resolved websocket endpoint.
func (c *Client) URL() string { return c.url }

// Messages delivers every envelope the hub sends, across reconnects. It is
// closed when Run returns.
func (c *Client) Messages() <-chan *types.Envelope { return c.messages }

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials, joins and reads until ctx is cancelled or Close is called,
// reconnecting with backoff whenever the socket drops. It returns nil after
// Close and ctx.Err() after cancellation.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.running:
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer close(c.messages)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		conn, err := c.connect(ctx)
		if err == nil {
			connectedAt := time.Now()
			err = c.readLoop(ctx, conn)
			if c.opts.Backoff.Stable(time.Since(connectedAt)) {
				attempt = 0
			}
		}

		if ctx.Err() != nil {
			if c.isClosed() {
				return nil
			}
			return ctx.Err()
		}

		delay := c.opts.Backoff.Next(attempt)
		attempt++
		c.logger.Warn("Connection lost, reconnecting",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

// connect dials and sends the join before publishing the socket to Send.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	join, err := types.EncodeEnvelope(types.MessageTypeJoinWhiteboard, types.JoinWhiteboard{
		WhiteboardID: c.opts.WhiteboardID,
		Token:        c.opts.Token,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode join: %w", err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, join)
	c.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("Connected", zap.String("url", c.url))
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env := &types.Envelope{}
		if err := json.Unmarshal(data, env); err != nil {
			c.logger.Debug("Discarding malformed frame", zap.Error(err))
			continue
		}

		select {
		case c.messages <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes one envelope on the current connection. It does not queue
// across reconnects.
func (c *Client) Send(msgType string, payload interface{}) error {
	frame, err := types.EncodeEnvelope(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Close stops Run and closes the socket with a normal closure. Safe to call twice.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		close(c.done)
	})
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

// Config bounds room size and tunes the room actors.
type Config struct {
	MaxRoomSize   int           // <= 0 means unbounded
	InboxSize     int           // per-room command queue
	CursorTTL     time.Duration // idle cursors older than this are pruned
	SweepInterval time.Duration // how often each room prunes cursors
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxRoomSize:   50,
		InboxSize:     256,
		CursorTTL:     5 * time.Second,
		SweepInterval: time.Second,
	}
}

// LeaveResult describes what a leave did to the room.
type LeaveResult struct {
	// Emptied is set when the leaving connection was the last one and the
	// room was removed; no user_left was broadcast.
	Emptied bool
	// UserStillPresent is set when the same user is still connected to the
	// room through another connection.
	UserStillPresent bool
}

// Stats is a point-in-time count of live rooms and attached connections.
// A room being created by an in-flight join counts as live; the join
// itself is counted once the room actor has applied it.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Hub owns the room registry and the lifecycle of every room actor.
// ARCHITECTURAL DISCOVERY: one actor per room replaces a single global loop,
// so traffic in one whiteboard never waits on another
type Hub struct {
	cfg      Config
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.RWMutex
}

// NewHub creates a stopped hub.
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(cfg.MaxRoomSize),
		logger:   logger,
		now:      time.Now,
	}
}

// Start enables joins. Rooms created afterwards live until they empty, ctx
// is cancelled or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	h.logger.Info("Whiteboard hub started",
		zap.Int("max_room_size", h.cfg.MaxRoomSize),
		zap.Duration("cursor_ttl", h.cfg.CursorTTL))
	return nil
}

// Stop cancels every room actor and waits for them to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	rooms := h.registry.drain()
	for _, rm := range rooms {
		rm.stop()
	}
	h.wg.Wait()

	h.logger.Info("Whiteboard hub stopped", zap.Int("rooms_closed", len(rooms)))
	return nil
}

// IsRunning reports whether the hub accepts joins.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Join attaches conn to the whiteboard, sends it the sync snapshot and
// announces it to the other members. It returns once both have been queued.
func (h *Hub) Join(ctx context.Context, whiteboardID string, conn interfaces.Connection, user types.User, role types.Role) (*Membership, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return nil, ErrHubNotRunning
	}
	parent := h.ctx
	h.mu.RUnlock()

	rm, err := h.registry.attach(whiteboardID, func() *room {
		rm := newRoom(whiteboardID, h.cfg, h.now, h.logger)
		h.wg.Add(1)
		rm.start(parent, h.wg.Done)
		return rm
	})
	if err != nil {
		return nil, err
	}

	cmd := &joinCmd{conn: conn, user: user, role: role, reply: make(chan error, 1)}
	if err := rm.submit(ctx, cmd); err != nil {
		h.rollback(whiteboardID, rm)
		return nil, err
	}

	// Once queued the join is applied regardless of ctx, so wait on the actor only.
	select {
	case err = <-cmd.reply:
	case <-rm.done:
		err = ErrRoomClosed
	}
	if err != nil {
		h.rollback(whiteboardID, rm)
		return nil, err
	}
	h.registry.confirm(whiteboardID, rm)

	return &Membership{hub: h, room: rm, conn: conn, user: user, role: role}, nil
}

func (h *Hub) rollback(whiteboardID string, rm *room) {
	if emptied, _ := h.registry.detach(whiteboardID, rm, false); emptied {
		rm.stop()
	}
}

// Members returns the connections currently in the whiteboard, in join order.
func (h *Hub) Members(ctx context.Context, whiteboardID string) ([]interfaces.Connection, error) {
	rm, ok := h.registry.lookup(whiteboardID)
	if !ok {
		return nil, nil
	}
	cmd := &membersCmd{reply: make(chan []interfaces.Connection, 1)}
	if err := rm.submit(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case conns := <-cmd.reply:
		return conns, nil
	case <-rm.done:
		return nil, ErrRoomClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the participant and cursor lists a fresh joiner would get.
func (h *Hub) Snapshot(ctx context.Context, whiteboardID string) (*types.SyncResponsePayload, error) {
	rm, ok := h.registry.lookup(whiteboardID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	cmd := &snapshotCmd{reply: make(chan types.SyncResponsePayload, 1)}
	if err := rm.submit(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case snap := <-cmd.reply:
		return &snap, nil
	case <-rm.done:
		return nil, ErrRoomClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasRoom reports whether a live room exists for whiteboardID.
func (h *Hub) HasRoom(whiteboardID string) bool {
	return h.registry.Has(whiteboardID)
}

// Rooms returns the ids of all live rooms.
func (h *Hub) Rooms() []string {
	return h.registry.IDs()
}

// Stats reports live rooms and attached connections.
func (h *Hub) Stats() Stats {
	return Stats{
		Rooms:       h.registry.Len(),
		Connections: h.registry.Connections(),
	}
}

// Membership is one connection's handle on the room it joined.
type Membership struct {
	hub  *Hub
	room *room
	conn interfaces.Connection
	user types.User
	role types.Role

	leaveOnce sync.Once
	result    LeaveResult
	leaveErr  error
}

// WhiteboardID returns the id of the joined room.
func (m *Membership) WhiteboardID() string { return m.room.id }

// Role returns the role granted at join time.
func (m *Membership) Role() types.Role { return m.role }

// User returns the identity bound at join time.
func (m *Membership) User() types.User { return m.user }

// MoveCursor records the caller's cursor and relays it to every other member.
func (m *Membership) MoveCursor(ctx context.Context, x, y float64) error {
	return m.room.submit(ctx, &cursorCmd{connID: m.conn.ID(), x: x, y: y})
}

// Broadcast encodes the envelope once and delivers it to every member,
// the caller included.
func (m *Membership) Broadcast(ctx context.Context, msgType string, payload interface{}) error {
	frame, err := types.EncodeEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return m.room.submit(ctx, &broadcastCmd{msgType: msgType, frame: frame})
}

// BroadcastOthers is Broadcast with the caller excluded.
func (m *Membership) BroadcastOthers(ctx context.Context, msgType string, payload interface{}) error {
	frame, err := types.EncodeEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return m.room.submit(ctx, &broadcastCmd{msgType: msgType, frame: frame, excludeID: m.conn.ID()})
}

// Sync sends the current snapshot to the caller only.
func (m *Membership) Sync(ctx context.Context) error {
	return m.room.submit(ctx, &syncCmd{connID: m.conn.ID()})
}

// Leave detaches the connection. Only the first call has an effect; later
// calls return the first result.
func (m *Membership) Leave(ctx context.Context) (LeaveResult, error) {
	m.leaveOnce.Do(func() {
		m.result, m.leaveErr = m.leave(ctx)
	})
	return m.result, m.leaveErr
}

func (m *Membership) leave(ctx context.Context) (LeaveResult, error) {
	emptied, found := m.hub.registry.detach(m.room.id, m.room, true)
	if !found {
		return LeaveResult{Emptied: true}, ErrRoomClosed
	}

	cmd := &leaveCmd{connID: m.conn.ID(), last: emptied, reply: make(chan leaveReply, 1)}
	if err := m.room.submit(ctx, cmd); err != nil {
		if emptied {
			m.room.stop()
		}
		return LeaveResult{Emptied: emptied}, err
	}
	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-m.room.done:
		return LeaveResult{Emptied: emptied}, nil
	}
}

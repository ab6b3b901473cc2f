package hub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"boardhub/internal/metrics"
	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

// Commands accepted by a room actor.

type joinCmd struct {
	conn  interfaces.Connection
	user  types.User
	role  types.Role
	reply chan error
}

type leaveCmd struct {
	connID string
	last   bool
	reply  chan leaveReply
}

type leaveReply struct {
	result LeaveResult
	err    error
}

type cursorCmd struct {
	connID string
	x, y   float64
}

type broadcastCmd struct {
	msgType   string
	frame     []byte
	excludeID string
}

type syncCmd struct {
	connID string
}

type snapshotCmd struct {
	reply chan types.SyncResponsePayload
}

type membersCmd struct {
	reply chan []interfaces.Connection
}

// room is the single owner of one whiteboard's presence state.
// ARCHITECTURAL DISCOVERY: every mutation arrives on inbox and is applied by
// run, so the roster and cursor map need no lock
type room struct {
	id       string
	inbox    chan interface{}
	done     chan struct{}
	cancel   context.CancelFunc
	presence *presence

	cursorTTL     time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

func newRoom(id string, cfg Config, now func() time.Time, logger *zap.Logger) *room {
	return &room{
		id:            id,
		inbox:         make(chan interface{}, cfg.InboxSize),
		done:          make(chan struct{}),
		presence:      newPresence(),
		cursorTTL:     cfg.CursorTTL,
		sweepInterval: cfg.SweepInterval,
		now:           now,
		logger:        logger.With(zap.String("whiteboard_id", id)),
	}
}

func (r *room) start(parent context.Context, onExit func()) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	go func() {
		defer onExit()
		r.run(ctx)
	}()
}

func (r *room) stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// submit queues cmd for the actor. It blocks only while the inbox is full.
func (r *room) submit(ctx context.Context, cmd interface{}) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- cmd:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *room) run(ctx context.Context) {
	defer close(r.done)
	r.logger.Debug("Room actor started")
	defer r.logger.Debug("Room actor stopped")

	var sweep <-chan time.Time
	if r.sweepInterval > 0 && r.cursorTTL > 0 {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep:
			if n := r.presence.pruneCursors(r.cutoff()); n > 0 {
				r.logger.Debug("Pruned idle cursors", zap.Int("count", n))
			}
		case cmd := <-r.inbox:
			if stop := r.handle(cmd); stop {
				return
			}
		}
	}
}

// handle applies one command and reports whether the actor should exit.
func (r *room) handle(cmd interface{}) bool {
	switch c := cmd.(type) {
	case *joinCmd:
		c.reply <- r.handleJoin(c)
	case *leaveCmd:
		return r.handleLeave(c)
	case *cursorCmd:
		r.handleCursor(c)
	case *broadcastCmd:
		r.fanout(c.msgType, c.frame, c.excludeID)
	case *syncCmd:
		if m, ok := r.presence.get(c.connID); ok {
			snap := r.presence.snapshot(r.cutoff())
			snap.UserRole = m.participant.Role
			r.sendTo(m, types.MessageTypeSyncResponse, snap)
		}
	case *snapshotCmd:
		c.reply <- r.presence.snapshot(r.cutoff())
	case *membersCmd:
		conns := make([]interfaces.Connection, 0, r.presence.len())
		r.presence.each(func(m *member) { conns = append(conns, m.conn) })
		c.reply <- conns
	default:
		r.logger.Error("Unknown room command", zap.String("command", fmt.Sprintf("%T", cmd)))
	}
	return false
}

func (r *room) handleJoin(c *joinCmd) error {
	m, err := r.presence.add(c.conn, c.user, c.role)
	if err != nil {
		return err
	}

	snap := r.presence.snapshot(r.cutoff())
	snap.UserRole = c.role
	r.sendTo(m, types.MessageTypeSyncResponse, snap)

	frame, err := types.EncodeEnvelope(types.MessageTypeUserJoined, types.PresencePayload{
		User:         c.user,
		Role:         c.role,
		ConnectionID: c.conn.ID(),
		Timestamp:    types.UnixMillis(r.now()),
	})
	if err != nil {
		r.logger.Error("Failed to encode user_joined", zap.Error(err))
		return nil
	}
	r.fanout(types.MessageTypeUserJoined, frame, c.conn.ID())

	r.logger.Info("Connection joined room",
		zap.String("connection_id", c.conn.ID()),
		zap.String("user_id", c.user.ID),
		zap.String("role", string(c.role)),
		zap.Int("members", r.presence.len()))
	return nil
}

func (r *room) handleLeave(c *leaveCmd) bool {
	m, ok := r.presence.remove(c.connID)
	if !ok {
		c.reply <- leaveReply{err: ErrNotMember}
		return c.last
	}

	user := m.participant.User
	result := LeaveResult{
		Emptied:          c.last,
		UserStillPresent: r.presence.connectionsOf(user.ID) > 0,
	}
	// FUNCTIONAL DISCOVERY: cursors are per user, so a second tab keeps the cursor alive
	if !result.UserStillPresent {
		r.presence.removeCursor(user.ID)
	}

	if !c.last {
		frame, err := types.EncodeEnvelope(types.MessageTypeUserLeft, types.PresencePayload{
			User:         user,
			Role:         m.participant.Role,
			ConnectionID: c.connID,
			Timestamp:    types.UnixMillis(r.now()),
		})
		if err != nil {
			r.logger.Error("Failed to encode user_left", zap.Error(err))
		} else {
			r.fanout(types.MessageTypeUserLeft, frame, "")
		}
	}

	r.logger.Info("Connection left room",
		zap.String("connection_id", c.connID),
		zap.String("user_id", user.ID),
		zap.Bool("emptied", c.last),
		zap.Int("members", r.presence.len()))

	c.reply <- leaveReply{result: result}
	return c.last
}

func (r *room) handleCursor(c *cursorCmd) {
	m, ok := r.presence.get(c.connID)
	if !ok {
		return
	}
	cursor := types.Cursor{
		UserID:    m.participant.User.ID,
		X:         c.x,
		Y:         c.y,
		User:      m.participant.User,
		Timestamp: types.UnixMillis(r.now()),
	}
	r.presence.setCursor(cursor)

	frame, err := types.EncodeEnvelope(types.MessageTypeCursorMove, cursor)
	if err != nil {
		r.logger.Error("Failed to encode cursor_move", zap.Error(err))
		return
	}
	r.fanout(types.MessageTypeCursorMove, frame, c.connID)
}

// fanout delivers frame to every member except excludeID.
// TECHNICAL DISCOVERY: Send only enqueues on the peer's outbound queue, so a
// slow socket costs the actor nothing; failures stay with that recipient
func (r *room) fanout(msgType string, frame []byte, excludeID string) {
	metrics.Broadcast(msgType)
	r.presence.each(func(m *member) {
		if m.conn.ID() == excludeID {
			return
		}
		r.deliver(m, msgType, frame)
	})
}

func (r *room) sendTo(m *member, msgType string, payload interface{}) {
	frame, err := types.EncodeEnvelope(msgType, payload)
	if err != nil {
		r.logger.Error("Failed to encode envelope", zap.String("type", msgType), zap.Error(err))
		return
	}
	r.deliver(m, msgType, frame)
}

func (r *room) deliver(m *member, msgType string, frame []byte) {
	connID := m.conn.ID()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.DeliveryFailure()
			r.logger.Error("Recovered panic during delivery",
				zap.String("connection_id", connID),
				zap.String("type", msgType),
				zap.Any("panic", rec))
		}
	}()

	if !m.conn.IsOpen() {
		r.logger.Debug("Skipping closed connection",
			zap.String("connection_id", connID),
			zap.String("type", msgType))
		return
	}
	if err := m.conn.Send(frame); err != nil {
		metrics.DeliveryFailure()
		r.logger.Warn("Delivery failed",
			zap.String("connection_id", connID),
			zap.String("type", msgType),
			zap.Error(fmt.Errorf("%w: %w", types.ErrDeliveryFailure, err)))
	}
}

func (r *room) cutoff() int64 {
	if r.cursorTTL <= 0 {
		return 0
	}
	return types.UnixMillis(r.now().Add(-r.cursorTTL))
}

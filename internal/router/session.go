package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"boardhub/internal/hub"
	"boardhub/internal/metrics"
	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

// State is the lifecycle position of one connection.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the Connected -> Joined -> Closed state machine for one connection.
// FUNCTIONAL DISCOVERY: HandleMessage runs on the connection's read goroutine,
// so frames from one client are processed strictly in receipt order
type Session struct {
	router *Router
	conn   interfaces.Connection
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	membership *hub.Membership
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleMessage implements interfaces.ClientSession.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	if !s.router.rateLimiter.Allow(s.conn.ID()) {
		s.replyError(types.ErrRateLimited)
		return
	}

	msg, err := types.DecodeMessage(data)
	if err != nil {
		metrics.MessageReceived("invalid")
		s.logger.Debug("Rejected malformed message", zap.Error(err))
		s.replyError(err)
		return
	}
	metrics.MessageReceived(msg.MessageType())

	if join, ok := msg.(*types.JoinWhiteboard); ok {
		s.handleJoin(ctx, join)
		return
	}

	if s.state != StateJoined {
		s.replyError(types.ErrNotJoined)
		return
	}

	if err := s.dispatch(ctx, msg); err != nil {
		s.logger.Warn("Failed to handle message",
			zap.String("type", msg.MessageType()),
			zap.String("whiteboard_id", s.membership.WhiteboardID()),
			zap.Error(err))
		s.replyError(err)
	}
}

// dispatch handles every room-scoped message. Caller holds s.mu and has
// checked that the session is joined.
func (s *Session) dispatch(ctx context.Context, msg types.Inbound) error {
	m := s.membership
	actor := m.User().ID

	if isMutation(msg) && !m.Role().CanEdit() {
		metrics.MutationRejected(msg.MessageType())
		return fmt.Errorf("%w: %s may not send %s", types.ErrAccessDenied, m.Role(), msg.MessageType())
	}

	switch msg := msg.(type) {
	case *types.CursorMove:
		return m.MoveCursor(ctx, msg.X, msg.Y)

	case *types.ElementAdd:
		return m.Broadcast(ctx, types.MessageTypeElementAdd, msg.Element.With("createdBy", actor))

	case *types.ElementUpdate:
		return m.Broadcast(ctx, types.MessageTypeElementUpdate, msg.Element.With("updatedBy", actor))

	case *types.ElementDelete:
		return m.Broadcast(ctx, types.MessageTypeElementDelete, msg.Element.With("deletedBy", actor))

	case *types.ElementBulkUpdate:
		elements := make([]types.Element, len(msg.Elements))
		for i, element := range msg.Elements {
			elements[i] = element.With("updatedBy", actor)
		}
		return m.Broadcast(ctx, types.MessageTypeElementBulkUpdate, types.BulkUpdatePayload{Elements: elements})

	case *types.WhiteboardClear:
		return m.Broadcast(ctx, types.MessageTypeWhiteboardClear, types.ClearPayload{
			ClearedBy: actor,
			Timestamp: types.UnixMillis(s.router.now()),
		})

	case *types.SyncRequest:
		return m.Sync(ctx)

	case *types.LeaveWhiteboard:
		s.leave(ctx)
		s.state = StateClosed
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Close after leave failed", zap.Error(err))
		}
		return nil

	default:
		return fmt.Errorf("%w: unhandled type %q", types.ErrMalformedMessage, msg.MessageType())
	}
}

// handleJoin runs identity, access and hub attach in that order. Any failure
// leaves the session Connected so the client may retry.
func (s *Session) handleJoin(ctx context.Context, join *types.JoinWhiteboard) {
	if s.state == StateJoined {
		s.replyError(types.ErrAlreadyJoined)
		return
	}

	user, err := s.router.identity.Resolve(ctx, join.Token)
	if err != nil {
		metrics.JoinFailure("authentication")
		s.logger.Info("Join rejected: authentication",
			zap.String("whiteboard_id", join.WhiteboardID), zap.Error(err))
		s.replyError(err)
		return
	}

	decision, err := s.router.policy.Authorize(ctx, user.ID, join.WhiteboardID)
	if err != nil {
		metrics.JoinFailure("policy_error")
		s.logger.Error("Join failed: access policy",
			zap.String("whiteboard_id", join.WhiteboardID),
			zap.String("user_id", user.ID), zap.Error(err))
		s.replyError(fmt.Errorf("%w: %w", ErrPolicyFailure, err))
		return
	}
	if !decision.CanAccess {
		metrics.JoinFailure("access_denied")
		s.logger.Info("Join rejected: access denied",
			zap.String("whiteboard_id", join.WhiteboardID), zap.String("user_id", user.ID))
		s.replyError(types.ErrAccessDenied)
		return
	}

	membership, err := s.router.hub.Join(ctx, join.WhiteboardID, s.conn, *user, decision.Role)
	if err != nil {
		reason := "hub"
		if errors.Is(err, types.ErrRoomFull) {
			reason = "room_full"
		}
		metrics.JoinFailure(reason)
		s.logger.Warn("Join failed: hub",
			zap.String("whiteboard_id", join.WhiteboardID),
			zap.String("user_id", user.ID), zap.Error(err))
		s.replyError(err)
		return
	}

	s.membership = membership
	s.state = StateJoined
	s.logger.Info("Joined whiteboard",
		zap.String("whiteboard_id", join.WhiteboardID),
		zap.String("user_id", user.ID),
		zap.String("role", string(decision.Role)))

	if s.router.status != nil {
		s.router.status.Online(join.WhiteboardID, user.ID)
	}
}

// leave detaches from the room and records offline status when this was the
// user's last connection in it. Caller holds s.mu.
func (s *Session) leave(ctx context.Context) {
	if s.membership == nil {
		return
	}
	m := s.membership
	s.membership = nil

	result, err := m.Leave(ctx)
	if err != nil && !errors.Is(err, hub.ErrRoomClosed) {
		s.logger.Warn("Leave failed",
			zap.String("whiteboard_id", m.WhiteboardID()), zap.Error(err))
	}

	if !result.UserStillPresent && s.router.status != nil {
		s.router.status.Offline(m.WhiteboardID(), m.User().ID)
	}
}

// Close implements interfaces.ClientSession.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leave(ctx)
	s.state = StateClosed
	s.router.rateLimiter.Forget(s.conn.ID())
}

// replyError sends an error envelope to this connection only.
func (s *Session) replyError(err error) {
	frame, encErr := types.EncodeEnvelope(types.MessageTypeError, types.ErrorPayload{Message: types.ClientMessage(err)})
	if encErr != nil {
		s.logger.Error("Failed to encode error envelope", zap.Error(encErr))
		return
	}
	if sendErr := s.conn.Send(frame); sendErr != nil {
		s.logger.Debug("Failed to send error envelope", zap.Error(sendErr))
	}
}

// isMutation reports whether msg changes whiteboard content.
func isMutation(msg types.Inbound) bool {
	switch msg.(type) {
	case *types.ElementAdd, *types.ElementUpdate, *types.ElementDelete,
		*types.ElementBulkUpdate, *types.WhiteboardClear:
		return true
	}
	return false
}

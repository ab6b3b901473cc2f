package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"boardhub/internal/hub"
	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

// RoomHub is the part of the hub the router drives.
type RoomHub interface {
	Join(ctx context.Context, whiteboardID string, conn interfaces.Connection, user types.User, role types.Role) (*hub.Membership, error)
}

// StatusRecorder receives best-effort presence writes. Calls must not block.
type StatusRecorder interface {
	Online(whiteboardID, userID string)
	Offline(whiteboardID, userID string)
}

// Config holds the per-connection limits applied by sessions.
type Config struct {
	RateLimit  int
	RateWindow time.Duration
}

// Router implements interfaces.MessageRouter
// ARCHITECTURAL DISCOVERY: the router owns per-connection policy (auth, access,
// rate limiting, enrichment) while room state stays inside the hub actors
type Router struct {
	hub         RoomHub
	identity    interfaces.IdentityResolver
	policy      interfaces.AccessPolicy
	status      StatusRecorder
	rateLimiter *RateLimiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewRouter creates a new message router
func NewRouter(h RoomHub, identity interfaces.IdentityResolver, policy interfaces.AccessPolicy, status StatusRecorder, cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		hub:         h,
		identity:    identity,
		policy:      policy,
		status:      status,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:      logger,
		now:         time.Now,
	}
}

// Connect starts a session in the Connected state for a new transport.
func (r *Router) Connect(conn interfaces.Connection) interfaces.ClientSession {
	return r.newSession(conn)
}

func (r *Router) newSession(conn interfaces.Connection) *Session {
	return &Session{
		router: r,
		conn:   conn,
		logger: r.logger.With(zap.String("connection_id", conn.ID())),
	}
}

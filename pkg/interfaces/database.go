package interfaces

import (
	"context"

	"boardhub/pkg/types"
)

// UserDirectory looks up user records for the identity resolver.
type UserDirectory interface {
	// GetUser returns ErrUserNotFound when the id is unknown.
	GetUser(ctx context.Context, userID string) (*types.User, error)
}

// WhiteboardStore is the read side consulted by the access policy.
type WhiteboardStore interface {
	// GetWhiteboard returns ErrWhiteboardNotFound when the id is unknown.
	GetWhiteboard(ctx context.Context, whiteboardID string) (*types.Whiteboard, error)

	// GetParticipant returns ErrParticipantNotFound when the user has no explicit record.
	GetParticipant(ctx context.Context, whiteboardID, userID string) (*types.WhiteboardParticipant, error)
}

// StatusSink receives best-effort online/offline writes.
type StatusSink interface {
	Name() string
	WriteStatus(ctx context.Context, update types.StatusUpdate) error
}

// DatabaseManager is the full relational store used by the application.
type DatabaseManager interface {
	UserDirectory
	WhiteboardStore
	StatusSink

	CreateUser(ctx context.Context, user *types.User) error
	CreateWhiteboard(ctx context.Context, whiteboard *types.Whiteboard) error
	AddParticipant(ctx context.Context, participant *types.WhiteboardParticipant) error

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close waits for queued writes and releases the connection pool.
	Close() error
}

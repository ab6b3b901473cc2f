package interfaces

import (
	"context"

	"boardhub/pkg/types"
)

// IdentityResolver verifies a bearer credential and returns the user it names.
// Failures wrap types.ErrAuthenticationFailed unless the directory itself is unavailable.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*types.User, error)
}

// AccessPolicy decides whether a user may join a whiteboard and at which role.
type AccessPolicy interface {
	Authorize(ctx context.Context, userID, whiteboardID string) (types.AccessDecision, error)
}

// MessageRouter creates the per-connection state machine for a new transport.
type MessageRouter interface {
	Connect(conn Connection) ClientSession
}

// ClientSession consumes one connection's inbound frames in receipt order.
type ClientSession interface {
	// HandleMessage processes a single text frame. It never returns an error:
	// failures are reported to the client as error envelopes.
	HandleMessage(ctx context.Context, data []byte)

	// Close runs disconnect cleanup. Called once when the transport ends.
	Close(ctx context.Context)
}

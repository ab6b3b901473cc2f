package types

import "errors"

// Hub error taxonomy. Components wrap these with %w so callers can match with errors.Is.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccessDenied         = errors.New("access denied")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrDeliveryFailure      = errors.New("delivery failure")
)

// Session-level errors reported back to the offending connection only.
var (
	ErrNotJoined     = errors.New("connection has not joined a whiteboard")
	ErrAlreadyJoined = errors.New("connection already joined a whiteboard")
	ErrRoomFull      = errors.New("whiteboard is full")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// ClientMessage maps an error to the text placed in an error envelope.
// Internal details never reach the client.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrMalformedMessage):
		return "Invalid message format"
	case errors.Is(err, ErrAuthenticationFailed):
		return "Authentication failed"
	case errors.Is(err, ErrAccessDenied):
		return "Access denied"
	case errors.Is(err, ErrNotJoined):
		return "Not joined to a whiteboard"
	case errors.Is(err, ErrAlreadyJoined):
		return "Already joined a whiteboard"
	case errors.Is(err, ErrRoomFull):
		return "Whiteboard is full"
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded"
	default:
		return "Internal server error"
	}
}

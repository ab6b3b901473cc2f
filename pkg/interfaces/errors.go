package interfaces

import "errors"

// Lookup errors shared by every store implementation.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrWhiteboardNotFound  = errors.New("whiteboard not found")
	ErrParticipantNotFound = errors.New("participant not found")
)

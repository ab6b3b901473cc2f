package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrRoomClosed        = errors.New("room is closed")
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotMember         = errors.New("connection is not a member of the room")
	ErrAlreadyMember     = errors.New("connection is already a member of the room")
)

package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrQueueOverflow    = errors.New("outbound queue overflow")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already registered")
)

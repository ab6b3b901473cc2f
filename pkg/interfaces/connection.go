package interfaces

// Connection is one live client transport as seen by the hub and router.
// ARCHITECTURAL DISCOVERY: the hub never touches sockets directly, so fan-out
// can be exercised with in-memory fakes and a broken peer can be injected in tests
type Connection interface {
	// ID is unique per transport session, not per user.
	ID() string

	// Send enqueues one encoded frame for delivery. It must not block on the
	// network; an error means this frame was not queued for this recipient.
	Send(frame []byte) error

	// IsOpen reports whether the transport can still accept frames.
	IsOpen() bool

	// Close tears down the transport. Safe to call more than once.
	Close() error
}

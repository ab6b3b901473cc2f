package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Message type constants for every envelope the hub accepts or emits.
// ARCHITECTURAL DISCOVERY: the set is closed; DecodeMessage rejects anything else
const (
	MessageTypeJoinWhiteboard    = "join_whiteboard"
	MessageTypeLeaveWhiteboard   = "leave_whiteboard"
	MessageTypeCursorMove        = "cursor_move"
	MessageTypeElementAdd        = "element_add"
	MessageTypeElementUpdate     = "element_update"
	MessageTypeElementDelete     = "element_delete"
	MessageTypeElementBulkUpdate = "element_bulk_update"
	MessageTypeWhiteboardClear   = "whiteboard_clear"
	MessageTypeSyncRequest       = "sync_request"
	MessageTypeSyncResponse      = "sync_response"
	MessageTypeUserJoined        = "user_joined"
	MessageTypeUserLeft          = "user_left"
	MessageTypeError             = "error"
)

// Participant status values written through the status sinks.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Role is the permission level a connection holds inside one whiteboard.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole accepts any casing ("Owner", "OWNER", "owner").
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, true
	case RoleEditor:
		return RoleEditor, true
	case RoleViewer:
		return RoleViewer, true
	default:
		return "", false
	}
}

// CanEdit reports whether the role may change whiteboard content.
// Viewers are limited to reading and presence.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// User is the identity bound to a connection after authentication.
// Role here is the account role from the directory and is opaque to the hub.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Participant is the {user, role} view of one live connection in a room.
// FUNCTIONAL DISCOVERY: one entry per connection, so a user with two tabs is listed twice
type Participant struct {
	User         User   `json:"user"`
	Role         Role   `json:"role"`
	ConnectionID string `json:"connectionId"`
}

// Cursor is the last known pointer position of a user inside a room.
type Cursor struct {
	UserID    string  `json:"userId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	User      User    `json:"user"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// AccessDecision is the outcome of an access policy check.
type AccessDecision struct {
	CanAccess bool `json:"canAccess"`
	Role      Role `json:"role,omitempty"`
}

// Whiteboard is the relational record the access policy consults.
type Whiteboard struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedBy string    `json:"createdBy" db:"created_by"`
	IsPublic  bool      `json:"isPublic" db:"is_public"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// WhiteboardParticipant is an explicit membership record for a whiteboard.
type WhiteboardParticipant struct {
	WhiteboardID string     `json:"whiteboardId" db:"whiteboard_id"`
	UserID       string     `json:"userId" db:"user_id"`
	Role         Role       `json:"role" db:"role"`
	Status       string     `json:"status" db:"status"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}

// StatusUpdate is one best-effort presence write.
type StatusUpdate struct {
	WhiteboardID string    `json:"whiteboardId"`
	UserID       string    `json:"userId"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
}

// Envelope is the only structure on the wire: {type, payload}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: msgType, Payload: json.RawMessage(`{}`)}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: msgType, Payload: data}, nil
}

// Encode renders the envelope as a single text frame.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// EncodeEnvelope builds and encodes an envelope in one step.
func EncodeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

// Outbound payloads.

// SyncResponsePayload is the full presence snapshot sent on join and on sync_request.
type SyncResponsePayload struct {
	Participants []Participant `json:"participants"`
	Cursors      []Cursor      `json:"cursors"`
	UserRole     Role          `json:"userRole,omitempty"`
}

// PresencePayload carries user_joined and user_left.
type PresencePayload struct {
	User         User   `json:"user"`
	Role         Role   `json:"role,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// ClearPayload is broadcast for whiteboard_clear.
type ClearPayload struct {
	ClearedBy string `json:"clearedBy"`
	Timestamp int64  `json:"timestamp"`
}

// BulkUpdatePayload is both the inbound and outbound shape of element_bulk_update.
type BulkUpdatePayload struct {
	Elements []Element `json:"elements"`
}

// ErrorPayload is sent to a single connection; the connection stays open.
type ErrorPayload struct {
	Message string `json:"message"`
}

// UnixMillis converts t to the millisecond timestamps used on the wire.
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

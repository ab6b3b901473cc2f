package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound is the closed set of client-to-server messages.
// ARCHITECTURAL DISCOVERY: a tagged union keyed by the envelope type replaces
// free-form payload maps so routing code never sees an unvalidated shape
type Inbound interface {
	MessageType() string
}

type JoinWhiteboard struct {
	WhiteboardID string `json:"whiteboardId"`
	Token        string `json:"token"`
}

type LeaveWhiteboard struct{}

type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ElementAdd struct{ Element Element }

type ElementUpdate struct{ Element Element }

type ElementDelete struct{ Element Element }

type ElementBulkUpdate struct{ Elements []Element }

type WhiteboardClear struct{}

type SyncRequest struct{}

func (*JoinWhiteboard) MessageType() string    { return MessageTypeJoinWhiteboard }
func (*LeaveWhiteboard) MessageType() string   { return MessageTypeLeaveWhiteboard }
func (*CursorMove) MessageType() string        { return MessageTypeCursorMove }
func (*ElementAdd) MessageType() string        { return MessageTypeElementAdd }
func (*ElementUpdate) MessageType() string     { return MessageTypeElementUpdate }
func (*ElementDelete) MessageType() string     { return MessageTypeElementDelete }
func (*ElementBulkUpdate) MessageType() string { return MessageTypeElementBulkUpdate }
func (*WhiteboardClear) MessageType() string   { return MessageTypeWhiteboardClear }
func (*SyncRequest) MessageType() string       { return MessageTypeSyncRequest }

// DecodeMessage parses one text frame into its typed variant.
// Every failure wraps ErrMalformedMessage.
func DecodeMessage(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch env.Type {
	case MessageTypeJoinWhiteboard:
		var msg JoinWhiteboard
		if err := decodeObject(env.Payload, &msg); err != nil {
			return nil, err
		}
		if !IsValidWhiteboardID(msg.WhiteboardID) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, ErrInvalidWhiteboardID)
		}
		return &msg, nil

	case MessageTypeLeaveWhiteboard:
		if err := expectEmptyObject(env.Payload); err != nil {
			return nil, err
		}
		return &LeaveWhiteboard{}, nil

	case MessageTypeCursorMove:
		var raw struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := decodeObject(env.Payload, &raw); err != nil {
			return nil, err
		}
		if raw.X == nil || raw.Y == nil {
			return nil, fmt.Errorf("%w: cursor_move requires x and y", ErrMalformedMessage)
		}
		return &CursorMove{X: *raw.X, Y: *raw.Y}, nil

	case MessageTypeElementAdd, MessageTypeElementUpdate, MessageTypeElementDelete:
		element, err := decodeElement(env.Payload)
		if err != nil {
			return nil, err
		}
		switch env.Type {
		case MessageTypeElementAdd:
			return &ElementAdd{Element: element}, nil
		case MessageTypeElementUpdate:
			return &ElementUpdate{Element: element}, nil
		default:
			return &ElementDelete{Element: element}, nil
		}

	case MessageTypeElementBulkUpdate:
		var batch struct {
			Elements []json.RawMessage `json:"elements"`
		}
		if err := decodeObject(env.Payload, &batch); err != nil {
			return nil, err
		}
		if len(batch.Elements) == 0 {
			return nil, fmt.Errorf("%w: element_bulk_update requires elements", ErrMalformedMessage)
		}
		elements := make([]Element, 0, len(batch.Elements))
		for _, raw := range batch.Elements {
			element, err := decodeElement(raw)
			if err != nil {
				return nil, err
			}
			elements = append(elements, element)
		}
		return &ElementBulkUpdate{Elements: elements}, nil

	case MessageTypeWhiteboardClear:
		if err := expectEmptyObject(env.Payload); err != nil {
			return nil, err
		}
		return &WhiteboardClear{}, nil

	case MessageTypeSyncRequest:
		if err := expectEmptyObject(env.Payload); err != nil {
			return nil, err
		}
		return &SyncRequest{}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}

// decodeObject requires payload to be a JSON object.
func decodeObject(payload json.RawMessage, v interface{}) error {
	if !isObject(payload) {
		return fmt.Errorf("%w: payload must be an object", ErrMalformedMessage)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// expectEmptyObject accepts a missing payload, null, or any object; content is ignored.
func expectEmptyObject(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if !isObject(trimmed) {
		return fmt.Errorf("%w: payload must be an object", ErrMalformedMessage)
	}
	return nil
}

func decodeElement(raw json.RawMessage) (Element, error) {
	var element Element
	if err := decodeObject(raw, &element); err != nil {
		return nil, err
	}
	if element.ID() == "" {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, ErrMissingElementID)
	}
	return element, nil
}

func isObject(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 1 && trimmed[0] == '{'
}

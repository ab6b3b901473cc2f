package types

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidWhiteboardID = errors.New("whiteboard ID must be 1-128 characters, alphanumeric + underscore/hyphen only")
	ErrMissingElementID    = errors.New("element requires a non-empty id")
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// covers cuid, uuid and slug style identifiers issued by the whiteboard service
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidWhiteboardID checks the format of an externally issued whiteboard id.
func IsValidWhiteboardID(id string) bool {
	if len(id) < 1 || len(id) > 128 {
		return false
	}
	return idRegex.MatchString(id)
}

// Element is an opaque whiteboard element. Fields are kept as raw JSON so the
// hub relays them byte-for-byte; only the id is inspected.
type Element map[string]json.RawMessage

// ID returns the element id as a string. Numeric ids are returned in their JSON form.
func (e Element) ID() string {
	raw, ok := e["id"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// With returns a copy of the element with key set to value.
// The receiver is never mutated, so one inbound element can be enriched safely.
func (e Element) With(key string, value interface{}) Element {
	out := make(Element, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	data, err := json.Marshal(value)
	if err != nil {
		// values passed here are strings and numbers built by the hub
		data = []byte("null")
	}
	out[key] = data
	return out
}

package prompt

import (
	"strings"

	"github.com/michaelbrown/funcgate/internal/llm"
)

// Tag is the control marker that opens a turn. The model was trained on
// these exact bytes and emits <c> or <f> at the start of its own output.
type Tag int

const (
	// TagNone marks the untagged first turn, which the template consumes as-is.
	TagNone Tag = iota
	TagUser
	TagProse
	TagFunctionCall
	TagToolResult
)

// MarkerLen is the byte length shared by every marker.
const MarkerLen = 3

var markers = [...]string{
	TagNone:         "",
	TagUser:         "<u>",
	TagProse:        "<c>",
	TagFunctionCall: "<f>",
	TagToolResult:   "<r>",
}

// Marker returns the wire bytes of the tag.
func (t Tag) Marker() string {
	if t < 0 || int(t) >= len(markers) {
		return ""
	}
	return markers[t]
}

func (t Tag) String() string {
	switch t {
	case TagUser:
		return "user_turn"
	case TagProse:
		return "assistant_prose"
	case TagFunctionCall:
		return "assistant_function_call"
	case TagToolResult:
		return "tool_result"
	default:
		return "none"
	}
}

// Split reports the tag at the start of s and the text after it. Text that
// starts with no marker yields TagNone and s unchanged.
func Split(s string) (Tag, string) {
	if len(s) < MarkerLen {
		return TagNone, s
	}
	for t := TagUser; t <= TagToolResult; t++ {
		if strings.HasPrefix(s, markers[t]) {
			return t, s[MarkerLen:]
		}
	}
	return TagNone, s
}

// IsPartialMarker reports whether s is a proper prefix of some marker, so
// more input is needed before Split can classify it.
func IsPartialMarker(s string) bool {
	if len(s) >= MarkerLen {
		return false
	}
	for t := TagUser; t <= TagToolResult; t++ {
		if strings.HasPrefix(markers[t], s) {
			return true
		}
	}
	return false
}

// TaggedMessage is one encoded turn ready for the template.
type TaggedMessage struct {
	Role llm.Role
	Tag  Tag
	Body string
}

// Content returns the turn as the model sees it: marker followed by body.
func (m TaggedMessage) Content() string {
	return m.Tag.Marker() + m.Body
}

func (m TaggedMessage) MarshalJSON() ([]byte, error) {
	return encodeJSON(struct {
		Role    llm.Role `json:"role"`
		Content string   `json:"content"`
	}{m.Role, m.Content()}, "")
}

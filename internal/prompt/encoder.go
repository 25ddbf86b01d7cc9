package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/michaelbrown/funcgate/internal/llm"
)

const (
	// DefaultInstruction introduces the function list in the first user turn.
	DefaultInstruction = "In this environment you have access to a set of functions defined in the JSON format you can use to address user's requests, use them if needed."

	// DefaultThinkingDirective is appended to the instruction in thinking
	// mode. The spacing inside the tags is what the model was trained on.
	DefaultThinkingDirective = "\nMake sure to include your thinking inside < thinking > </thinking > before response."
)

// Options are the fixed texts injected into an Encoder.
type Options struct {
	Instruction       string
	ThinkingDirective string
}

// DefaultOptions returns the texts the model was fine-tuned with.
func DefaultOptions() Options {
	return Options{
		Instruction:       DefaultInstruction,
		ThinkingDirective: DefaultThinkingDirective,
	}
}

// Encoder turns a normalized conversation into tagged turns.
type Encoder struct {
	opts Options
}

// NewEncoder creates an encoder. Empty options fall back to the defaults.
func NewEncoder(opts Options) *Encoder {
	def := DefaultOptions()
	if opts.Instruction == "" {
		opts.Instruction = def.Instruction
	}
	if opts.ThinkingDirective == "" {
		opts.ThinkingDirective = def.ThinkingDirective
	}
	return &Encoder{opts: opts}
}

// EncodeMessages validates the options, the function definitions and the
// messages, then encodes them. Nothing is built from an invalid input.
func (e *Encoder) EncodeMessages(messages []llm.ChatMessage, defs []llm.FunctionDefinition, includeThinking bool) ([]TaggedMessage, error) {
	if len(defs) == 0 && includeThinking {
		return nil, configurationf("thinking mode requires at least one function definition")
	}
	if err := CheckFunctionDefs(defs); err != nil {
		return nil, err
	}
	conv, err := Normalize(messages)
	if err != nil {
		return nil, err
	}
	return e.Encode(conv, defs, includeThinking)
}

// Encode emits one tagged message per turn, in order.
func (e *Encoder) Encode(conv *Conversation, defs []llm.FunctionDefinition, includeThinking bool) ([]TaggedMessage, error) {
	if len(defs) == 0 && includeThinking {
		return nil, configurationf("thinking mode requires at least one function definition")
	}
	if conv == nil || len(conv.Turns) == 0 {
		return nil, validationf("at least one user message must be provided")
	}

	// The first turn is sent untagged, so it must carry text: a user
	// message or an assistant greeting.
	first := conv.Turns[0]
	switch {
	case first.Role == llm.RoleTool:
		return nil, validationf("the first message after the system message cannot have role %q", llm.RoleTool)
	case first.Role == llm.RoleAssistant && first.Content == "":
		return nil, validationf(`the first message after the system message must have "content" when its role is "assistant"`)
	}

	out := make([]TaggedMessage, 0, len(conv.Turns))
	if len(defs) == 0 {
		out = append(out, TaggedMessage{Role: first.Role, Body: first.Content})
	} else {
		instruction := e.opts.Instruction
		if conv.System != nil {
			instruction = *conv.System
		}
		if includeThinking {
			instruction += e.opts.ThinkingDirective
		}

		functions, err := encodeJSON(defs, "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding function definitions: %w", err)
		}
		out = append(out, TaggedMessage{
			Role: llm.RoleUser,
			Body: instruction + "\n" +
				"Functions:\n" + string(functions) + "\n\n" +
				"User Message:\n" + first.Content,
		})
	}

	for _, turn := range conv.Turns[1:] {
		msg, err := encodeTurn(turn)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

type functionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func encodeTurn(turn Turn) (TaggedMessage, error) {
	switch turn.Role {
	case llm.RoleTool:
		data, err := encodeJSON(turn.Results, "  ")
		if err != nil {
			return TaggedMessage{}, validationf("encoding tool results: %v", err)
		}
		return TaggedMessage{Role: llm.RoleUser, Tag: TagToolResult, Body: EscapeNonASCII(data)}, nil

	case llm.RoleUser:
		return TaggedMessage{Role: llm.RoleUser, Tag: TagUser, Body: turn.Content}, nil

	case llm.RoleAssistant:
		if turn.Content != "" {
			return TaggedMessage{Role: llm.RoleAssistant, Tag: TagProse, Body: turn.Content}, nil
		}
		calls := make([]functionCall, len(turn.ToolCalls))
		for i, tc := range turn.ToolCalls {
			calls[i] = functionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
		data, err := encodeJSON(calls, "  ")
		if err != nil {
			return TaggedMessage{}, validationf("encoding tool calls: %v", err)
		}
		return TaggedMessage{Role: llm.RoleAssistant, Tag: TagFunctionCall, Body: string(data)}, nil
	}
	return TaggedMessage{}, validationf("invalid role %q", turn.Role)
}

// encodeJSON marshals v without HTML escaping, indenting when indent is set.
func encodeJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators writes U+2028 and U+2029 back as raw runes.
// encoding/json always escapes them, even with HTML escaping off.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' {
			out = append(out, data[i])
			continue
		}
		if i+5 < len(data) && data[i+1] == 'u' && string(data[i+2:i+5]) == "202" && (data[i+5] == '8' || data[i+5] == '9') {
			out = utf8.AppendRune(out, rune(0x2020+int(data[i+5]-'0')))
			i += 5
			continue
		}
		// Copy any other escape whole so an escaped backslash is never
		// read as the start of the next escape.
		out = append(out, data[i])
		if i+1 < len(data) {
			i++
			out = append(out, data[i])
		}
	}
	return out
}

// EscapeNonASCII rewrites every non-ASCII rune of a JSON text as a \u
// escape, using a surrogate pair outside the basic plane.
func EscapeNonASCII(data []byte) string {
	var buf bytes.Buffer
	buf.Grow(len(data))
	for _, r := range string(data) {
		switch {
		case r < 0x80:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&buf, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
	}
	return buf.String()
}

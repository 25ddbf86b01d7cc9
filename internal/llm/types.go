package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role represents a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is a single message in an OpenAI-style conversation.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result messages
}

// UnmarshalJSON accepts content either as a string or as an array of text
// parts, which some clients send even for plain text.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role       Role            `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCalls  []ToolCall      `json:"tool_calls"`
		ToolCallID string          `json:"tool_call_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID
	m.Content = nil

	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}

	switch content[0] {
	case '"':
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return fmt.Errorf("content: %w", err)
		}
		m.Content = &s
	case '[':
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(content, &parts); err != nil {
			return fmt.Errorf("content parts: %w", err)
		}
		var b strings.Builder
		for _, p := range parts {
			if p.Type != "" && p.Type != "text" {
				return fmt.Errorf("unsupported content part type %q", p.Type)
			}
			b.WriteString(p.Text)
		}
		s := b.String()
		m.Content = &s
	default:
		return fmt.Errorf("content must be a string or an array of text parts")
	}
	return nil
}

// MarshalJSON omits tool_calls only when ToolCalls is nil, so a function
// call turn with no calls still reports an empty list.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type plain ChatMessage
	if m.ToolCalls == nil {
		return json.Marshal(plain(m))
	}
	return json.Marshal(struct {
		plain
		ToolCalls []ToolCall `json:"tool_calls"`
	}{plain(m), m.ToolCalls})
}

// Text returns the message content, or "" when it is absent.
func (m ChatMessage) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall represents a tool invocation requested by the assistant.
type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type,omitempty"`
	Function *FunctionCall `json:"function"`
}

// FunctionCall names a function and its arguments. Arguments arrive either as
// a JSON-encoded string (the OpenAI wire form) or as a structured value.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsString returns the arguments in their canonical string form.
// A JSON string is unquoted; any other value is compacted JSON.
func (f FunctionCall) ArgumentsString() string {
	raw := bytes.TrimSpace(f.Arguments)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// NewToolCall builds a function tool call whose arguments are the given
// JSON-encoded string.
func NewToolCall(id, name, arguments string) ToolCall {
	args, _ := json.Marshal(arguments)
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: &FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

// FunctionDefinition describes a function the model may call. The bytes it
// was decoded from are kept so it can be re-encoded with its key order intact.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema

	raw json.RawMessage
}

type functionDefinitionAlias FunctionDefinition

func (f *FunctionDefinition) UnmarshalJSON(data []byte) error {
	var a functionDefinitionAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = FunctionDefinition(a)
	f.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

func (f FunctionDefinition) MarshalJSON() ([]byte, error) {
	if len(f.raw) > 0 {
		return f.raw, nil
	}
	return json.Marshal(functionDefinitionAlias(f))
}

// ParametersMap decodes the parameter schema into a generic map.
func (f FunctionDefinition) ParametersMap() (map[string]any, error) {
	if len(f.Parameters) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(f.Parameters, &m); err != nil {
		return nil, fmt.Errorf("parameters of %s: %w", f.Name, err)
	}
	return m, nil
}

// Tool wraps a function definition in the OpenAI tools array form.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// StopSequences accepts either a single string or an array of strings.
type StopSequences []string

func (s *StopSequences) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StopSequences{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("stop must be a string or an array of strings: %w", err)
	}
	*s = many
	return nil
}

// Usage is token accounting reported by the engine.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ModelInfo describes a model served by the engine.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// Helper constructors

func String(s string) *string { return &s }

func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: String(content)}
}

func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: String(content)}
}

func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: String(content)}
}

func ToolResultMessage(toolCallID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: String(content), ToolCallID: toolCallID}
}

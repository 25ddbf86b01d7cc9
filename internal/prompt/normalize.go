package prompt

import (
	"bytes"
	"encoding/json"

	"github.com/michaelbrown/funcgate/internal/llm"
)

// ToolResult is one tool message folded into a merged tool turn.
type ToolResult struct {
	Value      json.RawMessage `json:"value"`
	ToolCallID string          `json:"tool_call_id"`
}

// Turn is a normalized conversation entry. Content is set for user and
// prose assistant turns, ToolCalls for function-call assistant turns and
// Results for tool turns.
type Turn struct {
	Role      llm.Role
	Content   string
	ToolCalls []llm.ToolCall
	Results   []ToolResult
}

// Conversation is a validated message list. No two consecutive turns are
// both user or both assistant, and consecutive tool messages share a turn.
type Conversation struct {
	// System holds the leading system message, if any.
	System *string
	Turns  []Turn
}

// Normalize validates messages and merges consecutive user and tool turns.
func Normalize(messages []llm.ChatMessage) (*Conversation, error) {
	if len(messages) == 0 {
		return nil, validationf("messages cannot be empty")
	}

	conv := &Conversation{}
	if messages[0].Role == llm.RoleSystem {
		if messages[0].Content == nil {
			return nil, validationf(`"content" must be provided for message with role "system"`)
		}
		system := *messages[0].Content
		conv.System = &system
		messages = messages[1:]
	}

	if len(messages) == 0 {
		return nil, validationf("at least one user message must be provided")
	}

	var prev llm.Role
	for i, m := range messages {
		switch m.Role {
		case llm.RoleTool:
			if m.Content == nil {
				return nil, validationf(`message %d: "content" must be provided for message with role "tool"`, i)
			}
			if m.ToolCallID == "" {
				return nil, validationf(`message %d: "tool_call_id" must be provided for message with role "tool"`, i)
			}
			value := []byte(*m.Content)
			if !json.Valid(value) {
				return nil, validationf(`message %d: content of a message with role "tool" must be a valid JSON string`, i)
			}
			result := ToolResult{Value: json.RawMessage(bytes.TrimSpace(value)), ToolCallID: m.ToolCallID}
			if prev == llm.RoleTool {
				last := &conv.Turns[len(conv.Turns)-1]
				last.Results = append(last.Results, result)
			} else {
				conv.Turns = append(conv.Turns, Turn{Role: llm.RoleTool, Results: []ToolResult{result}})
			}

		case llm.RoleUser:
			if m.Content == nil {
				return nil, validationf(`message %d: "content" must be provided for message with role "user"`, i)
			}
			if prev == llm.RoleUser {
				last := &conv.Turns[len(conv.Turns)-1]
				last.Content += "\n\n" + *m.Content
			} else {
				conv.Turns = append(conv.Turns, Turn{Role: llm.RoleUser, Content: *m.Content})
			}

		case llm.RoleAssistant:
			if prev == llm.RoleAssistant {
				return nil, validationf("message %d: consecutive assistant messages are not allowed", i)
			}
			if m.Text() == "" && len(m.ToolCalls) == 0 {
				return nil, validationf(`message %d: either "content" or "tool_calls" must be provided for message with role "assistant"`, i)
			}
			if err := checkToolCalls(i, m.ToolCalls); err != nil {
				return nil, err
			}
			conv.Turns = append(conv.Turns, Turn{
				Role:      llm.RoleAssistant,
				Content:   m.Text(),
				ToolCalls: m.ToolCalls,
			})

		default:
			return nil, validationf("message %d: invalid role %q", i, m.Role)
		}
		prev = m.Role
	}

	return conv, nil
}

func checkToolCalls(i int, calls []llm.ToolCall) error {
	for j, tc := range calls {
		if tc.ID == "" {
			return validationf(`message %d: tool call %d: "id" must be provided`, i, j)
		}
		if tc.Function == nil {
			return validationf(`message %d: tool call %d: "function" must be provided`, i, j)
		}
		if tc.Function.Name == "" {
			return validationf(`message %d: tool call %d: "name" must be provided for the function`, i, j)
		}
		args := bytes.TrimSpace(tc.Function.Arguments)
		if len(args) == 0 || bytes.Equal(args, []byte("null")) {
			return validationf(`message %d: tool call %d: "arguments" must be provided for the function`, i, j)
		}
	}
	return nil
}

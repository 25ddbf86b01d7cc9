// Package decode turns raw model output back into OpenAI chat completions.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/prompt"
)

const (
	// ThinkingEnd closes the optional reasoning segment.
	ThinkingEnd = "</thinking>"

	// ChatIDPrefix is prepended to the engine's completion ID.
	ChatIDPrefix = "chat"

	toolCallIDPrefix = "call_" + "_0_"
)

// ErrDecode - the model emitted a function-call payload that is not valid.
var ErrDecode = errors.New("decode error")

// Error carries the raw completion text that failed to decode.
type Error struct {
	Raw string
	Err error
}

func (e *Error) Error() string {
	return "malformed function call payload: " + e.Err.Error()
}

func (e *Error) Is(target error) bool { return target == ErrDecode }

func (e *Error) Unwrap() error { return e.Err }

// Result is the decoded form of one generation.
type Result struct {
	// Content is nil for a tool-call generation without thinking.
	Content   *string
	Thinking  *string
	ToolCalls []llm.ToolCall

	// FunctionCall is set when the generation opened with the function-call
	// marker, even if the array was empty.
	FunctionCall bool
}

// SplitThinking cuts text after the first ThinkingEnd. The thinking segment
// includes the marker. Without the marker thinking is nil.
func SplitThinking(text string) (thinking *string, remainder string) {
	i := strings.Index(text, ThinkingEnd)
	if i < 0 {
		return nil, text
	}
	end := i + len(ThinkingEnd)
	t := text[:end]
	return &t, text[end:]
}

// DecodeText classifies generated text. completionID seeds the synthesized
// tool-call IDs.
func DecodeText(text, completionID string) (Result, error) {
	thinking, remainder := SplitThinking(text)

	tag, body := prompt.Split(remainder)
	switch tag {
	case prompt.TagFunctionCall:
		calls, err := ParseToolCalls(body, completionID)
		if err != nil {
			return Result{}, &Error{Raw: text, Err: err}
		}
		return Result{Content: thinking, Thinking: thinking, ToolCalls: calls, FunctionCall: true}, nil

	case prompt.TagProse:
		content := body
		if thinking != nil {
			content = *thinking + body
		}
		return Result{Content: &content, Thinking: thinking}, nil
	}

	// Untagged output, usually a truncated generation, is kept verbatim.
	return Result{Content: &text, Thinking: thinking}, nil
}

type generatedCall struct {
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseToolCalls parses the JSON array that follows a function-call marker.
func ParseToolCalls(payload, completionID string) ([]llm.ToolCall, error) {
	var generated []generatedCall
	if err := json.Unmarshal([]byte(payload), &generated); err != nil {
		return nil, err
	}
	if generated == nil {
		return nil, errors.New("expected a JSON array of calls")
	}

	calls := make([]llm.ToolCall, len(generated))
	for i, g := range generated {
		if g.Name == nil {
			return nil, fmt.Errorf("tool call %d has no name", i)
		}
		if len(g.Arguments) == 0 {
			return nil, fmt.Errorf("tool call %d has no arguments", i)
		}
		id := toolCallIDPrefix + *g.Name + "_" + completionID + "_" + strconv.Itoa(i)
		calls[i] = llm.NewToolCall(id, *g.Name, argumentsString(g.Arguments))
	}
	return calls, nil
}

// argumentsString passes a JSON string through and serializes anything else
// with ", " and ": " separators and ASCII escapes, the form OpenAI clients
// already receive from Python servers.
func argumentsString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}

	var out bytes.Buffer
	inString, escaped := false, false
	for _, c := range compact.Bytes() {
		out.WriteByte(c)
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && (c == ',' || c == ':'):
			out.WriteByte(' ')
		}
	}
	return prompt.EscapeNonASCII(out.Bytes())
}

// Decode converts a one-shot engine completion into a chat completion.
func Decode(c *llm.Completion) (*llm.ChatCompletion, error) {
	choice := c.Choice()

	res, err := DecodeText(choice.Text, c.ID)
	if err != nil {
		return nil, err
	}

	finish := choice.FinishReason
	if res.FunctionCall {
		if finish != nil && *finish != llm.FinishStop {
			slog.Warn("Tool call payload ended early", "completion", c.ID, "finish_reason", *finish)
		}
		finish = llm.String(llm.FinishToolCalls)
	}

	return &llm.ChatCompletion{
		ID:      ChatIDPrefix + c.ID,
		Object:  llm.ObjectChatCompletion,
		Created: c.Created,
		Model:   c.Model,
		Choices: []llm.ChatChoice{{
			Index: 0,
			Message: llm.ChatMessage{
				Role:      llm.RoleAssistant,
				Content:   res.Content,
				ToolCalls: res.ToolCalls,
			},
			Logprobs:     choice.Logprobs,
			FinishReason: finish,
		}},
		Usage: c.Usage,
	}, nil
}

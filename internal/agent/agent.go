package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/michaelbrown/funcgate/internal/decode"
	"github.com/michaelbrown/funcgate/internal/llm"
)

// ToolExecutor lists the available functions and runs them.
type ToolExecutor interface {
	FunctionDefinitions() ([]llm.FunctionDefinition, error)
	CallTool(ctx context.Context, name, arguments string) (string, error)
}

// Agent manages a conversation and executes the tool-calling loop.
type Agent struct {
	client   llm.ChatClient
	executor ToolExecutor
	history  []llm.ChatMessage
	tools    []llm.FunctionDefinition
	maxIter  int

	OnToolCall   func(name, arguments string)
	OnToolResult func(name, result string)
	OnTextDelta  func(delta string)
}

// New creates an Agent with the given chat client, tool executor, and
// iteration limit. executor may be nil for a plain chat.
func New(client llm.ChatClient, executor ToolExecutor, maxIterations int) (*Agent, error) {
	a := &Agent{
		client:   client,
		executor: executor,
		maxIter:  maxIterations,
	}
	if a.maxIter <= 0 {
		a.maxIter = 10
	}
	if executor != nil {
		defs, err := executor.FunctionDefinitions()
		if err != nil {
			return nil, fmt.Errorf("listing tools: %w", err)
		}
		a.tools = defs
	}
	return a, nil
}

// SetSystemPrompt sets a leading system message. With tools available the
// server uses it in place of its default function instruction.
func (a *Agent) SetSystemPrompt(text string) {
	if text == "" {
		return
	}
	if len(a.history) > 0 && a.history[0].Role == llm.RoleSystem {
		a.history[0] = llm.SystemMessage(text)
		return
	}
	a.history = append([]llm.ChatMessage{llm.SystemMessage(text)}, a.history...)
}

// FilterTools restricts available tools to the given names.
func (a *Agent) FilterTools(names []string) {
	if len(names) == 0 {
		return
	}
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var filtered []llm.FunctionDefinition
	for _, t := range a.tools {
		if allowed[t.Name] {
			filtered = append(filtered, t)
		}
	}
	a.tools = filtered
}

// Tools returns the function definitions offered to the model.
func (a *Agent) Tools() []llm.FunctionDefinition {
	return a.tools
}

// Run sends a user message and loops until the model answers without
// calling a tool. Returns the final assistant text.
func (a *Agent) Run(ctx context.Context, userMessage string) (string, error) {
	return a.loop(ctx, userMessage, func(ctx context.Context) (*llm.ChatMessage, error) {
		return a.client.ChatCompletion(ctx, a.history, a.tools)
	})
}

// RunStreaming is like Run but streams text output via OnTextDelta.
func (a *Agent) RunStreaming(ctx context.Context, userMessage string) (string, error) {
	return a.loop(ctx, userMessage, func(ctx context.Context) (*llm.ChatMessage, error) {
		return a.client.ChatCompletionStream(ctx, a.history, a.tools, a.OnTextDelta)
	})
}

func (a *Agent) loop(ctx context.Context, userMessage string, complete func(context.Context) (*llm.ChatMessage, error)) (string, error) {
	a.history = append(a.history, llm.UserMessage(userMessage))

	for i := 0; i < a.maxIter; i++ {
		msg, err := complete(ctx)
		if err != nil {
			return "", fmt.Errorf("llm call (iteration %d): %w", i+1, err)
		}
		if err := resolveToolCalls(msg, i); err != nil {
			return "", err
		}

		a.history = append(a.history, *msg)

		if len(msg.ToolCalls) == 0 {
			return msg.Text(), nil
		}

		for _, tc := range msg.ToolCalls {
			name := tc.Function.Name
			args := tc.Function.ArgumentsString()
			if a.OnToolCall != nil {
				a.OnToolCall(name, args)
			}

			result := a.executeTool(ctx, name, args)

			if a.OnToolResult != nil {
				a.OnToolResult(name, result)
			}

			a.history = append(a.history, llm.ToolResultMessage(tc.ID, llm.ToolResultJSON(result)))
		}
	}

	return "", fmt.Errorf("agent reached max iterations (%d) without a final response", a.maxIter)
}

// resolveToolCalls decodes a function-call payload the server streamed
// through as content.
func resolveToolCalls(msg *llm.ChatMessage, iteration int) error {
	if len(msg.ToolCalls) > 0 || msg.Content == nil {
		return nil
	}
	res, err := decode.DecodeText(*msg.Content, fmt.Sprintf("agent%d", iteration))
	if err != nil {
		return err
	}
	if !res.FunctionCall {
		return nil
	}
	msg.Content = res.Content
	msg.ToolCalls = res.ToolCalls
	return nil
}

func (a *Agent) executeTool(ctx context.Context, name, arguments string) string {
	if a.executor == nil {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	result, err := a.executor.CallTool(ctx, name, arguments)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return result
}

// History returns the current conversation history.
func (a *Agent) History() []llm.ChatMessage {
	return a.history
}

// HistoryJSON returns the conversation as formatted JSON (for debugging).
func (a *Agent) HistoryJSON() string {
	data, _ := json.MarshalIndent(a.history, "", "  ")
	return string(data)
}

// Reset clears conversation history, keeping a system prompt if set.
func (a *Agent) Reset() {
	if len(a.history) > 0 && a.history[0].Role == llm.RoleSystem {
		a.history = a.history[:1]
		return
	}
	a.history = nil
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent(tools=%d, history=%d messages, maxIter=%d)",
		len(a.tools), len(a.history), a.maxIter)
}

// FormatToolCall returns a human-readable string for a tool call.
func FormatToolCall(name, arguments string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || len(args) == 0 {
		return fmt.Sprintf("%s(%s)", name, arguments)
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// ChatClient is the interface the agent uses to talk to a chat-completion API.
type ChatClient interface {
	ChatCompletion(ctx context.Context, messages []ChatMessage, tools []FunctionDefinition) (*ChatMessage, error)
	ChatCompletionStream(ctx context.Context, messages []ChatMessage, tools []FunctionDefinition, handler StreamHandler) (*ChatMessage, error)
}

// OpenAIChatClient works with any OpenAI-compatible chat API, funcgate's own
// server included.
type OpenAIChatClient struct {
	client *openai.Client
	model  string
}

// NewChatClient creates a chat client for the given server.
func NewChatClient(baseURL, apiKey, model string) *OpenAIChatClient {
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &OpenAIChatClient{
		client: &client,
		model:  model,
	}
}

func (c *OpenAIChatClient) ChatCompletion(ctx context.Context, messages []ChatMessage, tools []FunctionDefinition) (*ChatMessage, error) {
	params, err := c.params(messages, tools)
	if err != nil {
		return nil, err
	}

	var completion *openai.ChatCompletion
	for attempt := range 3 {
		completion, err = c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "429") || attempt == 2 {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		wait := time.Duration(2<<attempt) * time.Second // 2s, 4s
		slog.Warn("Rate limited, retrying", "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("chat completion: %w", ctx.Err())
		}
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	choice := completion.Choices[0]
	msg := &ChatMessage{Role: RoleAssistant}
	if choice.Message.Content != "" {
		msg.Content = String(choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return msg, nil
}

func (c *OpenAIChatClient) params(messages []ChatMessage, tools []FunctionDefinition) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		converted, err := convertTools(tools)
		if err != nil {
			return params, err
		}
		params.Tools = converted
	}
	return params, nil
}

func convertMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					if tc.Function == nil {
						continue
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.ArgumentsString(),
						},
					})
				}
				assistant := openai.ChatCompletionAssistantMessageParam{
					ToolCalls: toolCalls,
				}
				if m.Text() != "" {
					assistant.Content.OfString = param.NewOpt(m.Text())
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &assistant,
				})
			} else {
				out = append(out, openai.AssistantMessage(m.Text()))
			}
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		}
	}
	return out
}

func convertTools(tools []FunctionDefinition) ([]openai.ChatCompletionToolParam, error) {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		params, err := t.ParametersMap()
		if err != nil {
			return nil, err
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return out, nil
}

// ToolResultJSON encodes a plain-text tool result as a JSON string, the form
// funcgate expects for tool message content.
func ToolResultJSON(result string) string {
	if json.Valid([]byte(result)) {
		return result
	}
	data, _ := json.Marshal(result)
	return string(data)
}

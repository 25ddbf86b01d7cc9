package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// StreamHandler receives text deltas during streaming.
type StreamHandler func(delta string)

// ChatCompletionStream sends a streaming chat completion request.
// The handler is called with each text delta as it arrives.
// Returns the accumulated assistant message once streaming is complete.
func (c *OpenAIChatClient) ChatCompletionStream(ctx context.Context, messages []ChatMessage, tools []FunctionDefinition, handler StreamHandler) (*ChatMessage, error) {
	params, err := c.params(messages, tools)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && handler != nil {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				handler(delta)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming: %w", err)
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	choice := acc.Choices[0]
	msg := &ChatMessage{Role: RoleAssistant}
	if choice.Message.Content != "" {
		msg.Content = String(choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return msg, nil
}

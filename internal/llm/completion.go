package llm

import (
	"encoding/json"
	"sort"
)

// ChatCompletionRequest is the inbound OpenAI chat-completion payload.
// Sampling parameters the adapter does not interpret are kept in Extra and
// forwarded to the engine untouched.
type ChatCompletionRequest struct {
	Model           string               `json:"model,omitempty"`
	Messages        []ChatMessage        `json:"messages"`
	Functions       []FunctionDefinition `json:"functions,omitempty"`
	FunctionCall    json.RawMessage      `json:"function_call,omitempty"`
	Tools           []Tool               `json:"tools,omitempty"`
	ToolChoice      json.RawMessage      `json:"tool_choice,omitempty"`
	IncludeThinking bool                 `json:"include_thinking,omitempty"`
	Stream          bool                 `json:"stream,omitempty"`
	Stop            StopSequences        `json:"stop,omitempty"`

	MaxTokens        *int64   `json:"max_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	Logprobs         *bool    `json:"logprobs,omitempty"`
	TopLogprobs      *int64   `json:"top_logprobs,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var chatRequestFields = []string{
	"model", "messages", "functions", "function_call", "tools", "tool_choice",
	"include_thinking", "stream", "stop", "max_tokens", "temperature", "top_p",
	"presence_penalty", "frequency_penalty", "seed", "logprobs", "top_logprobs",
}

// Fields accepted from OpenAI clients but never sent to the engine.
var droppedRequestFields = []string{
	"n", "user", "logit_bias_type", "min_tokens", "stream_options", "response_format",
}

type chatCompletionRequestAlias ChatCompletionRequest

func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	var a chatCompletionRequestAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range chatRequestFields {
		delete(all, k)
	}
	for _, k := range droppedRequestFields {
		delete(all, k)
	}
	if len(all) > 0 {
		a.Extra = all
	}

	*r = ChatCompletionRequest(a)
	return nil
}

// CompletionRequest is what the adapter sends to the inference engine.
type CompletionRequest struct {
	Model            string
	Prompt           string
	Stop             []string
	MaxTokens        *int64
	Temperature      *float64
	TopP             *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
	Seed             *int64
	Logprobs         *int64
	Extra            map[string]json.RawMessage
}

// ExtraKeys returns the passthrough parameter names in a stable order.
func (r CompletionRequest) ExtraKeys() []string {
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Completion is a raw text completion, or one chunk of a streamed completion.
// Streamed chunks carry no usage until the last one.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

type CompletionChoice struct {
	Index        int             `json:"index"`
	Text         string          `json:"text"`
	Logprobs     json.RawMessage `json:"logprobs"`
	FinishReason *string         `json:"finish_reason"`
}

// Choice returns the first choice, which is the only one the engine produces.
func (c *Completion) Choice() CompletionChoice {
	if len(c.Choices) == 0 {
		return CompletionChoice{}
	}
	return c.Choices[0]
}

// ChatCompletion is the OpenAI-compatible non-streaming response.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ChatMessage     `json:"message"`
	Logprobs     json.RawMessage `json:"logprobs"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatCompletionChunk is one event of a streamed chat completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int             `json:"index"`
	Delta        Delta           `json:"delta"`
	Logprobs     json.RawMessage `json:"logprobs"`
	FinishReason *string         `json:"finish_reason"`
}

// Delta is the incremental part of a chunk. An empty Delta marshals to {}.
type Delta struct {
	Role      Role            `json:"role,omitempty"`
	Content   *string         `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

type ToolCallDelta struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

const (
	ObjectTextCompletion = "text_completion"
	ObjectChatCompletion = "chat.completion"
	ObjectChatChunk      = "chat.completion.chunk"

	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Engine is the inference server consumed as a black box: it completes a
// prompt either in one shot or as a stream of chunks.
type Engine interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	CompleteStream(ctx context.Context, req CompletionRequest, handler ChunkHandler) error
}

// ChunkHandler receives streamed chunks in order. Returning an error stops
// the stream.
type ChunkHandler func(chunk Completion) error

// ModelLister is implemented by engines that can report their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// OpenAIEngine talks to any server exposing the OpenAI text-completion API
// (llama.cpp server, llama-cpp-python, vLLM, Ollama).
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// NewEngine creates an engine client. Retries are disabled: a failed
// generation is reported to the caller as-is.
func NewEngine(baseURL, apiKey, model string, timeout time.Duration) *OpenAIEngine {
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	client := openai.NewClient(opts...)
	return &OpenAIEngine{
		client: &client,
		model:  model,
	}
}

func (e *OpenAIEngine) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params, opts, err := e.params(req)
	if err != nil {
		return nil, err
	}

	completion, err := e.client.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return fromOpenAI(completion), nil
}

func (e *OpenAIEngine) CompleteStream(ctx context.Context, req CompletionRequest, handler ChunkHandler) error {
	params, opts, err := e.params(req)
	if err != nil {
		return err
	}

	stream := e.client.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := handler(*fromOpenAI(&chunk)); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	return nil
}

// ListModels queries the engine's /models endpoint.
func (e *OpenAIEngine) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := e.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}

	models := make([]ModelInfo, len(page.Data))
	for i, m := range page.Data {
		models[i] = ModelInfo{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		}
	}
	return models, nil
}

func (e *OpenAIEngine) params(req CompletionRequest) (openai.CompletionNewParams, []option.RequestOption, error) {
	model := req.Model
	if model == "" {
		model = e.model
	}

	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(model),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.Logprobs != nil {
		params.Logprobs = openai.Int(*req.Logprobs)
	}

	// Engine-specific sampling knobs (top_k, min_p, repeat_penalty, grammar...)
	// are set on the body verbatim.
	var opts []option.RequestOption
	for _, key := range req.ExtraKeys() {
		var v any
		if err := json.Unmarshal(req.Extra[key], &v); err != nil {
			return params, nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		opts = append(opts, option.WithJSONSet(key, v))
	}

	return params, opts, nil
}

func fromOpenAI(c *openai.Completion) *Completion {
	out := &Completion{
		ID:      c.ID,
		Object:  ObjectTextCompletion,
		Created: c.Created,
		Model:   c.Model,
	}

	for _, ch := range c.Choices {
		choice := CompletionChoice{
			Index: int(ch.Index),
			Text:  ch.Text,
		}
		if ch.FinishReason != "" {
			choice.FinishReason = String(string(ch.FinishReason))
		}
		if ch.JSON.Logprobs.Valid() {
			choice.Logprobs = json.RawMessage(ch.JSON.Logprobs.Raw())
		}
		out.Choices = append(out.Choices, choice)
	}

	if c.JSON.Usage.Valid() {
		out.Usage = &Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		}
	}
	return out
}

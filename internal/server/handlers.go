package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/decode"
	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.routes.OpenAPI("funcgate", Version))
}

type modelList struct {
	Object string          `json:"object"`
	Data   []llm.ModelInfo `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if lister, ok := s.engine.(llm.ModelLister); ok {
		models, err := lister.ListModels(r.Context())
		if err != nil {
			writeRequestError(w, fmt.Errorf("%w: %w", adapter.ErrEngine, err))
			return
		}
		if models == nil {
			models = []llm.ModelInfo{}
		}
		writeJSON(w, http.StatusOK, modelList{Object: "list", Data: models})
		return
	}

	models := []llm.ModelInfo{}
	if s.opts.Model != "" {
		models = append(models, llm.ModelInfo{ID: s.opts.Model, Object: "model", OwnedBy: "me"})
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: models})
}

// --- Text completions ---

// completionRequest is the OpenAI text-completion payload. Parameters it
// does not name are forwarded in Extra.
type completionRequest struct {
	Model            string            `json:"model"`
	Prompt           string            `json:"prompt"`
	Stop             llm.StopSequences `json:"stop"`
	MaxTokens        *int64            `json:"max_tokens"`
	Temperature      *float64          `json:"temperature"`
	TopP             *float64          `json:"top_p"`
	PresencePenalty  *float64          `json:"presence_penalty"`
	FrequencyPenalty *float64          `json:"frequency_penalty"`
	Seed             *int64            `json:"seed"`
	Logprobs         *int64            `json:"logprobs"`
	Stream           bool              `json:"stream"`
}

var completionRequestFields = []string{
	"model", "prompt", "stop", "max_tokens", "temperature", "top_p", "presence_penalty",
	"frequency_penalty", "seed", "logprobs", "stream", "n", "user", "stream_options",
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeRequestError(w, err)
		return
	}
	data, _ := json.Marshal(raw)
	var req completionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	for _, k := range completionRequestFields {
		delete(raw, k)
	}

	creq := llm.CompletionRequest{
		Model:            req.Model,
		Prompt:           req.Prompt,
		Stop:             req.Stop,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
		Logprobs:         req.Logprobs,
	}
	if len(raw) > 0 {
		creq.Extra = raw
	}

	if !req.Stream {
		c, err := s.engine.Complete(r.Context(), creq)
		if err != nil {
			writeRequestError(w, fmt.Errorf("%w: %w", adapter.ErrEngine, err))
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	err = s.engine.CompleteStream(r.Context(), creq, func(c llm.Completion) error {
		return sse.Data(c)
	})
	if err != nil && r.Context().Err() == nil {
		sse.Error(fmt.Errorf("%w: %w", adapter.ErrEngine, err))
	}
	sse.Done()
}

// --- Plain chat ---

// handlePlainChat is the host's own chat route: the conversation is
// rendered with the chat template as-is and the generated text returned
// verbatim. Tools are ignored.
func (s *Server) handlePlainChat(w http.ResponseWriter, r *http.Request) {
	var req llm.ChatCompletionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeRequestError(w, err)
		return
	}

	text, err := s.renderer.RenderChat(req.Messages)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	creq := adapter.EngineRequest(&req, text, s.opts.StopToken)

	if !req.Stream {
		c, err := s.engine.Complete(r.Context(), creq)
		if err != nil {
			writeRequestError(w, fmt.Errorf("%w: %w", adapter.ErrEngine, err))
			return
		}
		writeJSON(w, http.StatusOK, plainCompletion(c))
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	started := false
	err = s.engine.CompleteStream(r.Context(), creq, func(c llm.Completion) error {
		for _, chunk := range plainChunks(c, !started) {
			if err := sse.Data(chunk); err != nil {
				return err
			}
		}
		started = true
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		sse.Error(fmt.Errorf("%w: %w", adapter.ErrEngine, err))
	}
	sse.Done()
}

func plainCompletion(c *llm.Completion) *llm.ChatCompletion {
	choice := c.Choice()
	return &llm.ChatCompletion{
		ID:      decode.ChatIDPrefix + c.ID,
		Object:  llm.ObjectChatCompletion,
		Created: c.Created,
		Model:   c.Model,
		Choices: []llm.ChatChoice{{
			Message:      llm.AssistantMessage(choice.Text),
			Logprobs:     choice.Logprobs,
			FinishReason: choice.FinishReason,
		}},
		Usage: c.Usage,
	}
}

func plainChunks(c llm.Completion, first bool) []llm.ChatCompletionChunk {
	chunk := func(delta llm.Delta, finish *string) llm.ChatCompletionChunk {
		return llm.ChatCompletionChunk{
			ID:      decode.ChatIDPrefix + c.ID,
			Object:  llm.ObjectChatChunk,
			Created: c.Created,
			Model:   c.Model,
			Choices: []llm.ChunkChoice{{Delta: delta, Logprobs: c.Choice().Logprobs, FinishReason: finish}},
		}
	}

	var out []llm.ChatCompletionChunk
	if first {
		out = append(out, chunk(llm.Delta{Role: llm.RoleAssistant}, nil))
	}
	choice := c.Choice()
	if choice.Text != "" {
		out = append(out, chunk(llm.Delta{Content: llm.String(choice.Text)}, nil))
	}
	if choice.FinishReason != nil {
		out = append(out, chunk(llm.Delta{}, choice.FinishReason))
	}
	return out
}

// --- Completion records ---

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	opts := storage.RecordListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.RecordStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	records, err := s.store.ListRecords(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if records == nil {
		records = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found_error", "record not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

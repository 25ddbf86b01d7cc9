package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/michaelbrown/funcgate/internal/decode"
	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/prompt"
	"github.com/michaelbrown/funcgate/internal/storage"
)

// ErrEngine - the inference engine failed to produce a completion.
var ErrEngine = errors.New("engine error")

// Config holds the adapter's fixed texts and resource limits.
type Config struct {
	Instruction       string
	ThinkingDirective string
	Template          string
	StopToken         string

	// MaxConcurrent bounds the generations running on the engine at once.
	MaxConcurrent int64
	// StreamBuffer is the capacity of the channel between the engine
	// stream and the client.
	StreamBuffer int
	// BufferToolCalls emits streamed tool calls as structured deltas.
	BufferToolCalls bool
}

// Recorder persists completion records.
type Recorder interface {
	SaveRecord(ctx context.Context, r *storage.Record) error
}

// Handler runs chat completions through the prompt encoder, the engine and
// the decoder.
type Handler struct {
	engine   llm.Engine
	encoder  *prompt.Encoder
	renderer *prompt.Renderer
	sem      *semaphore.Weighted
	cfg      Config
	recorder Recorder
}

// New creates a Handler. recorder may be nil.
func New(engine llm.Engine, cfg Config, recorder Recorder) (*Handler, error) {
	if cfg.StopToken == "" {
		cfg.StopToken = prompt.EndOfTurn
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 10
	}

	renderer, err := prompt.NewRenderer(cfg.Template)
	if err != nil {
		return nil, err
	}

	return &Handler{
		engine: engine,
		encoder: prompt.NewEncoder(prompt.Options{
			Instruction:       cfg.Instruction,
			ThinkingDirective: cfg.ThinkingDirective,
		}),
		renderer: renderer,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:      cfg,
		recorder: recorder,
	}, nil
}

// Prepared is a request ready to send to the engine.
type Prepared struct {
	Choice    ToolChoice
	Functions []llm.FunctionDefinition
	Tagged    []prompt.TaggedMessage
	Prompt    string
	Request   llm.CompletionRequest
	Thinking  bool
}

// Prepare validates the request and builds the engine prompt. Nothing is
// sent to the engine.
func (h *Handler) Prepare(req *llm.ChatCompletionRequest) (*Prepared, error) {
	choice, err := ResolveToolChoice(req)
	if err != nil {
		return nil, err
	}
	functions := EffectiveFunctions(req, choice)

	tagged, err := h.encoder.EncodeMessages(req.Messages, functions, req.IncludeThinking)
	if err != nil {
		return nil, err
	}

	text, err := h.renderer.Render(tagged)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Choice:    choice,
		Functions: functions,
		Tagged:    tagged,
		Prompt:    text,
		Thinking:  req.IncludeThinking,
		Request:   EngineRequest(req, text, h.cfg.StopToken),
	}, nil
}

// Complete runs a non-streaming chat completion.
func (h *Handler) Complete(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletion, error) {
	start := time.Now()
	rec := h.newRecord(req, false)

	p, err := h.Prepare(req)
	if err != nil {
		h.finishRecord(ctx, rec, start, storage.StatusValidationError, err)
		return nil, err
	}
	rec.Prompt = p.Prompt

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	raw, err := h.engine.Complete(ctx, p.Request)
	h.sem.Release(1)
	if err != nil {
		h.finishRecord(ctx, rec, start, storage.StatusEngineError, err)
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}

	choice := raw.Choice()
	rec.RawText = choice.Text
	if choice.FinishReason != nil {
		rec.FinishReason = *choice.FinishReason
	}

	chat, err := decode.Decode(raw)
	if err != nil {
		slog.Error("Decoding completion", "completion", raw.ID, "raw", choice.Text, "error", err)
		h.finishRecord(ctx, rec, start, storage.StatusDecodeError, err)
		return nil, err
	}

	if data, err := json.Marshal(chat); err != nil {
		slog.Debug("Encoding completion record response", "id", rec.ID, "error", err)
	} else {
		rec.Response = data
	}
	h.finishRecord(ctx, rec, start, storage.StatusOK, nil)
	return chat, nil
}

// StreamEvent is one item of a streamed completion: a chunk, or the error
// that ended the stream.
type StreamEvent struct {
	Chunk *llm.ChatCompletionChunk
	Err   error
}

// Stream starts a streaming chat completion. Request errors are returned
// before anything is sent to the engine. Otherwise the returned channel
// yields chunks and is closed when the generation ends or ctx is canceled.
func (h *Handler) Stream(ctx context.Context, req *llm.ChatCompletionRequest) (<-chan StreamEvent, error) {
	start := time.Now()
	rec := h.newRecord(req, true)

	p, err := h.Prepare(req)
	if err != nil {
		h.finishRecord(ctx, rec, start, storage.StatusValidationError, err)
		return nil, err
	}
	rec.Prompt = p.Prompt

	events := make(chan StreamEvent, h.cfg.StreamBuffer)
	go func() {
		defer close(events)

		send := func(ev StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := h.sem.Acquire(ctx, 1); err != nil {
			h.finishRecord(ctx, rec, start, storage.StatusCanceled, err)
			return
		}
		defer h.sem.Release(1)

		dec := decode.NewStreamDecoder(decode.StreamOptions{
			Thinking:        p.Thinking,
			BufferToolCalls: h.cfg.BufferToolCalls,
		})
		var raw strings.Builder

		emit := func(chunks []llm.ChatCompletionChunk) error {
			for i := range chunks {
				if err := send(StreamEvent{Chunk: &chunks[i]}); err != nil {
					return err
				}
			}
			return nil
		}

		err := h.engine.CompleteStream(ctx, p.Request, func(c llm.Completion) error {
			choice := c.Choice()
			raw.WriteString(choice.Text)
			if choice.FinishReason != nil {
				rec.FinishReason = *choice.FinishReason
			}
			chunks, decErr := dec.Push(c)
			if err := emit(chunks); err != nil {
				return err
			}
			return decErr
		})
		if err == nil {
			chunks, closeErr := dec.Close()
			if err = emit(chunks); err == nil {
				err = closeErr
			}
		}
		rec.RawText = raw.String()

		switch {
		case err == nil:
			h.finishRecord(ctx, rec, start, storage.StatusOK, nil)
		case ctx.Err() != nil:
			h.finishRecord(ctx, rec, start, storage.StatusCanceled, ctx.Err())
		case errors.Is(err, decode.ErrDecode):
			slog.Error("Decoding completion stream", "raw", rec.RawText, "error", err)
			h.finishRecord(ctx, rec, start, storage.StatusDecodeError, err)
			send(StreamEvent{Err: err})
		default:
			h.finishRecord(ctx, rec, start, storage.StatusEngineError, err)
			send(StreamEvent{Err: fmt.Errorf("%w: %w", ErrEngine, err)})
		}
	}()

	return events, nil
}

func (h *Handler) newRecord(req *llm.ChatCompletionRequest, stream bool) *storage.Record {
	rec := &storage.Record{
		ID:     uuid.New().String(),
		Model:  req.Model,
		Stream: stream,
	}
	if data, err := json.Marshal(req); err != nil {
		slog.Debug("Encoding completion record request", "id", rec.ID, "error", err)
	} else {
		rec.Request = data
	}
	return rec
}

func (h *Handler) finishRecord(ctx context.Context, rec *storage.Record, start time.Time, status storage.RecordStatus, err error) {
	if h.recorder == nil {
		return
	}
	rec.Status = status
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Error = err.Error()
	}
	if saveErr := h.recorder.SaveRecord(context.WithoutCancel(ctx), rec); saveErr != nil {
		slog.Warn("Saving completion record", "id", rec.ID, "error", saveErr)
	}
}

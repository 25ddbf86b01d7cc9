package decode

import (
	"encoding/json"
	"strings"

	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/prompt"
)

// StreamOptions control how a StreamDecoder treats the generation.
type StreamOptions struct {
	// Thinking expects an optional reasoning segment before the marker.
	Thinking bool

	// BufferToolCalls collects a function-call payload and emits it as one
	// structured tool_calls delta instead of passing it through as content.
	BufferToolCalls bool
}

type streamState int

const (
	stateDetect streamState = iota
	stateThinking
	stateProse
	stateFunctionCall
)

// StreamDecoder converts engine chunks into chat-completion chunks. The
// marker only appears at the start of the generation, so text is held back
// until it can be classified and flows through unchanged afterwards.
// A StreamDecoder serves a single stream and is not safe for concurrent use.
type StreamDecoder struct {
	opts StreamOptions

	state        streamState
	thinkingDone bool
	started      bool
	done         bool

	pending string
	payload strings.Builder

	sourceID string
	id       string
	model    string
	created  int64
}

// NewStreamDecoder creates a decoder for one stream.
func NewStreamDecoder(opts StreamOptions) *StreamDecoder {
	return &StreamDecoder{opts: opts}
}

// Push consumes one engine chunk and returns the chunks to send. The first
// call always yields a role-only delta first.
//
// A delta with a finish reason never carries content. When the source chunk
// has both text and a finish reason, the text goes out first as a content
// delta with a null finish reason, followed by an empty terminal delta that
// carries the source's finish reason.
func (d *StreamDecoder) Push(c llm.Completion) ([]llm.ChatCompletionChunk, error) {
	if d.done {
		return nil, nil
	}

	var out []llm.ChatCompletionChunk
	if !d.started {
		d.started = true
		d.sourceID = c.ID
		d.id = ChatIDPrefix + c.ID
		d.model = c.Model
		d.created = c.Created
		out = append(out, d.chunk(llm.Delta{Role: llm.RoleAssistant}, nil, nil))
	}

	choice := c.Choice()
	if text := d.feed(choice.Text); text != "" {
		out = append(out, d.content(text, choice.Logprobs))
	}

	if choice.FinishReason == nil {
		return out, nil
	}
	tail, err := d.finish(choice.FinishReason, choice.Logprobs, true)
	return append(out, tail...), err
}

// Close flushes held-back text when the source ended without reporting a
// finish reason. A buffered function call is still emitted and finished.
func (d *StreamDecoder) Close() ([]llm.ChatCompletionChunk, error) {
	if d.done || !d.started {
		return nil, nil
	}
	return d.finish(nil, nil, false)
}

func (d *StreamDecoder) finish(reason *string, logprobs json.RawMessage, terminal bool) ([]llm.ChatCompletionChunk, error) {
	d.done = true

	var out []llm.ChatCompletionChunk
	if text := d.flush(); text != "" {
		out = append(out, d.content(text, nil))
	}

	if d.state == stateFunctionCall && d.opts.BufferToolCalls {
		calls, err := ParseToolCalls(d.payload.String(), d.sourceID)
		if err != nil {
			return out, &Error{Raw: prompt.TagFunctionCall.Marker() + d.payload.String(), Err: err}
		}
		deltas := make([]llm.ToolCallDelta, len(calls))
		for i, tc := range calls {
			deltas[i] = llm.ToolCallDelta{
				Index:    i,
				ID:       tc.ID,
				Type:     tc.Type,
				Function: *tc.Function,
			}
		}
		out = append(out, d.chunk(llm.Delta{ToolCalls: deltas}, nil, nil))
		reason = llm.String(llm.FinishToolCalls)
		terminal = true
	}

	if terminal {
		out = append(out, d.chunk(llm.Delta{}, logprobs, reason))
	}
	return out, nil
}

// feed advances the state machine and returns the text ready to send.
func (d *StreamDecoder) feed(text string) string {
	switch d.state {
	case stateProse:
		return text

	case stateFunctionCall:
		if d.opts.BufferToolCalls {
			d.payload.WriteString(text)
			return ""
		}
		return text

	case stateThinking:
		d.pending += text
		if i := strings.Index(d.pending, ThinkingEnd); i >= 0 {
			end := i + len(ThinkingEnd)
			thinking, rest := d.pending[:end], d.pending[end:]
			d.pending = ""
			d.thinkingDone = true
			d.state = stateDetect
			return thinking + d.feed(rest)
		}
		keep := partialSuffix(d.pending, ThinkingEnd)
		ready := d.pending[:len(d.pending)-keep]
		d.pending = d.pending[len(d.pending)-keep:]
		return ready
	}

	d.pending += text
	if prompt.IsPartialMarker(d.pending) {
		return ""
	}

	p := d.pending
	d.pending = ""
	tag, rest := prompt.Split(p)
	switch tag {
	case prompt.TagProse:
		d.state = stateProse
		return rest
	case prompt.TagFunctionCall:
		d.state = stateFunctionCall
		if d.opts.BufferToolCalls {
			d.payload.WriteString(rest)
			return ""
		}
		return p
	}

	if d.opts.Thinking && !d.thinkingDone {
		d.state = stateThinking
		return d.feed(p)
	}
	d.state = stateProse
	return p
}

// flush releases text held back while waiting for a marker.
func (d *StreamDecoder) flush() string {
	p := d.pending
	d.pending = ""
	if d.state == stateDetect || d.state == stateThinking {
		d.state = stateProse
	}
	return p
}

func (d *StreamDecoder) content(text string, logprobs json.RawMessage) llm.ChatCompletionChunk {
	return d.chunk(llm.Delta{Content: llm.String(text)}, logprobs, nil)
}

func (d *StreamDecoder) chunk(delta llm.Delta, logprobs json.RawMessage, finish *string) llm.ChatCompletionChunk {
	return llm.ChatCompletionChunk{
		ID:      d.id,
		Object:  llm.ObjectChatChunk,
		Created: d.created,
		Model:   d.model,
		Choices: []llm.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			Logprobs:     logprobs,
			FinishReason: finish,
		}},
	}
}

// partialSuffix returns the length of the longest proper prefix of marker
// that s ends with.
func partialSuffix(s, marker string) int {
	for k := min(len(marker)-1, len(s)); k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}

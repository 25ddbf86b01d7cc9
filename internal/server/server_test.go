package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/storage"
	"github.com/michaelbrown/funcgate/internal/storage/sqlite"
)

const testKey = "sk-test"

type fakeEngine struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest

	chunks []string
	finish string
	err    error
}

func (f *fakeEngine) last() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeEngine) completion(text string, finish *string) llm.Completion {
	return llm.Completion{
		ID:      "cmpl-9",
		Object:  llm.ObjectTextCompletion,
		Created: 1700000000,
		Model:   "empower-functions",
		Choices: []llm.CompletionChoice{{Text: text, FinishReason: finish}},
	}
}

func (f *fakeEngine) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := f.completion(strings.Join(f.chunks, ""), llm.String(f.finish))
	return &c, nil
}

func (f *fakeEngine) CompleteStream(_ context.Context, req llm.CompletionRequest, handler llm.ChunkHandler) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for i, text := range f.chunks {
		var finish *string
		if i == len(f.chunks)-1 {
			finish = llm.String(f.finish)
		}
		if err := handler(f.completion(text, finish)); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	engine *fakeEngine
	store  storage.Store
	srv    *Server
	http   *httptest.Server
}

func newEnv(t *testing.T, engine *fakeEngine, withAdapter bool) *testEnv {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv, err := New(engine, store, Options{APIKey: testKey, Model: "empower-functions"})
	require.NoError(t, err)

	if withAdapter {
		h, err := adapter.New(engine, adapter.Config{BufferToolCalls: true}, store)
		require.NoError(t, err)
		require.NoError(t, srv.UseAdapter(h))
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{engine: engine, store: store, srv: srv, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

const weatherBody = `{
  "model": "empower-functions",
  "messages": [{"role": "user", "content": "What's the weather in San Francisco?"}],
  "tools": [{"type": "function", "function": {
    "name": "get_current_weather",
    "description": "Get the current weather",
    "parameters": {"type": "object", "properties": {"location": {"type": "string"}}, "required": ["location"]}
  }}],
  "temperature": 0,
  "top_k": 40
}`

func TestRoutesOverrideKeepsAuthAndDoc(t *testing.T) {
	rs := NewRoutes()
	doc := Operation{OperationID: "chat", Summary: "Chat"}
	require.NoError(t, rs.Handle(http.MethodPost, "/v1/chat", http.NotFoundHandler(), true, doc))

	assert.Error(t, rs.Handle(http.MethodPost, "/v1/chat", http.NotFoundHandler(), false, Operation{}))
	assert.Error(t, rs.Override(http.MethodGet, "/v1/missing", http.NotFoundHandler()))

	replacement := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, rs.Override(http.MethodPost, "/v1/chat", replacement))

	route, ok := rs.Lookup(http.MethodPost, "/v1/chat")
	require.True(t, ok)
	assert.True(t, route.Auth)
	assert.Equal(t, doc, route.Doc)
	assert.Len(t, rs.All(), 1)
}

func TestOpenAPIDocument(t *testing.T) {
	env := newEnv(t, &fakeEngine{}, true)

	resp, err := http.Get(env.http.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Paths map[string]map[string]struct {
			OperationID string                `json:"operationId"`
			Security    []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	decodeBody(t, resp, &doc)

	chat := doc.Paths[PathChatCompletions]["post"]
	assert.Equal(t, "create_chat_completion_v1_chat_completions_post", chat.OperationID)
	assert.NotEmpty(t, chat.Security)
	assert.Contains(t, doc.Paths, PathChatCompletionsWS)
	assert.Contains(t, doc.Paths, "/api/records/{id}")
}

func TestAuth(t *testing.T) {
	env := newEnv(t, &fakeEngine{}, true)

	resp, err := http.Post(env.http.URL+PathChatCompletions, "application/json", strings.NewReader(weatherBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	health, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestChatCompletionToolCall(t *testing.T) {
	engine := &fakeEngine{
		chunks: []string{`<f>[{"name": "get_current_weather", "arguments": {"location": "San Francisco, CA"}}]`},
		finish: "stop",
	}
	env := newEnv(t, engine, true)

	resp := env.do(t, http.MethodPost, PathChatCompletions, weatherBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got llm.ChatCompletion
	decodeBody(t, resp, &got)
	assert.Equal(t, "chatcmpl-9", got.ID)
	assert.Equal(t, llm.ObjectChatCompletion, got.Object)
	require.Len(t, got.Choices, 1)
	assert.Equal(t, llm.FinishToolCalls, *got.Choices[0].FinishReason)
	require.Len(t, got.Choices[0].Message.ToolCalls, 1)

	tc := got.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "call__0_get_current_weather_cmpl-9_0", tc.ID)
	assert.Equal(t, `{"location": "San Francisco, CA"}`, tc.Function.ArgumentsString())

	req := engine.last()
	assert.Contains(t, req.Prompt, "Functions:")
	assert.Equal(t, []string{"<|eot_id|>"}, req.Stop)
	assert.JSONEq(t, "40", string(req.Extra["top_k"]))

	records, err := env.store.ListRecords(context.Background(), storage.RecordListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusOK, records[0].Status)
}

func TestChatCompletionErrors(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngine
		body   string
		status int
		typ    string
	}{
		{
			name:   "malformed json",
			engine: &fakeEngine{},
			body:   `{"messages": [`,
			status: http.StatusBadRequest,
			typ:    "invalid_request_error",
		},
		{
			name:   "invalid conversation",
			engine: &fakeEngine{},
			body:   `{"messages": [{"role": "assistant", "content": "hi"}, {"role": "assistant", "content": "again"}]}`,
			status: http.StatusBadRequest,
			typ:    "invalid_request_error",
		},
		{
			name:   "tool_choice any",
			engine: &fakeEngine{},
			body:   strings.Replace(weatherBody, `"temperature": 0`, `"tool_choice": "any"`, 1),
			status: http.StatusBadRequest,
			typ:    "invalid_request_error",
		},
		{
			name:   "engine down",
			engine: &fakeEngine{err: errors.New("connection refused")},
			body:   weatherBody,
			status: http.StatusBadGateway,
			typ:    "engine_error",
		},
		{
			name:   "malformed function call",
			engine: &fakeEngine{chunks: []string{`<f>[{"name": "get_current_weather"`}, finish: "length"},
			body:   weatherBody,
			status: http.StatusInternalServerError,
			typ:    "internal_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, tt.engine, true)
			resp := env.do(t, http.MethodPost, PathChatCompletions, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body apiError
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.typ, body.Error.Type)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

// readSSE returns the data payloads of an event stream.
func readSSE(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestChatCompletionStream(t *testing.T) {
	engine := &fakeEngine{chunks: []string{"<c>It is ", "sunny."}, finish: "stop"}
	env := newEnv(t, engine, true)

	body := strings.Replace(weatherBody, `"temperature": 0`, `"stream": true`, 1)
	resp := env.do(t, http.MethodPost, PathChatCompletions, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var content strings.Builder
	var last llm.ChatCompletionChunk
	for _, data := range events[:len(events)-1] {
		var chunk llm.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		assert.Equal(t, llm.ObjectChatChunk, chunk.Object)
		if c := chunk.Choices[0].Delta.Content; c != nil {
			content.WriteString(*c)
		}
		last = chunk
	}
	assert.Equal(t, "It is sunny.", content.String())
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
}

func TestChatCompletionStreamDecodeError(t *testing.T) {
	engine := &fakeEngine{chunks: []string{`<f>[{"name": `}, finish: "length"}
	env := newEnv(t, engine, true)

	body := strings.Replace(weatherBody, `"temperature": 0`, `"stream": true`, 1)
	resp := env.do(t, http.MethodPost, PathChatCompletions, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, resp)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var errBody apiError
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2]), &errBody))
	assert.Equal(t, "internal_error", errBody.Error.Type)
}

func TestPlainChatWithoutAdapter(t *testing.T) {
	engine := &fakeEngine{chunks: []string{"<c>raw text"}, finish: "stop"}
	env := newEnv(t, engine, false)

	resp := env.do(t, http.MethodPost, PathChatCompletions, weatherBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got llm.ChatCompletion
	decodeBody(t, resp, &got)
	assert.Equal(t, "<c>raw text", got.Choices[0].Message.Text())
	assert.NotContains(t, engine.last().Prompt, "Functions:")

	ws, err := http.Get(env.http.URL + PathChatCompletionsWS)
	require.NoError(t, err)
	defer ws.Body.Close()
	assert.Equal(t, http.StatusNotFound, ws.StatusCode)
}

func TestModelsFallback(t *testing.T) {
	env := newEnv(t, &fakeEngine{}, true)

	resp := env.do(t, http.MethodGet, PathModels, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got modelList
	decodeBody(t, resp, &got)
	assert.Equal(t, "list", got.Object)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "empower-functions", got.Data[0].ID)
}

func TestCompletionsPassthrough(t *testing.T) {
	engine := &fakeEngine{chunks: []string{"Hello"}, finish: "length"}
	env := newEnv(t, engine, true)

	resp := env.do(t, http.MethodPost, PathCompletions, `{"prompt": "Say hi", "stop": "\n", "max_tokens": 5, "mirostat_mode": 2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got llm.Completion
	decodeBody(t, resp, &got)
	assert.Equal(t, "Hello", got.Choice().Text)

	req := engine.last()
	assert.Equal(t, "Say hi", req.Prompt)
	assert.Equal(t, []string{"\n"}, req.Stop)
	assert.Equal(t, int64(5), *req.MaxTokens)
	assert.Equal(t, []string{"mirostat_mode"}, req.ExtraKeys())
}

func TestRecordsAPI(t *testing.T) {
	engine := &fakeEngine{chunks: []string{`<f>[oops`}, finish: "stop"}
	env := newEnv(t, engine, true)

	resp := env.do(t, http.MethodPost, PathChatCompletions, weatherBody)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	list := env.do(t, http.MethodGet, "/api/records?status=decode_error", "")
	require.Equal(t, http.StatusOK, list.StatusCode)
	var records []storage.Record
	decodeBody(t, list, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "<f>[oops", records[0].RawText)
	id := records[0].ID

	get := env.do(t, http.MethodGet, "/api/records/"+id[:8], "")
	require.Equal(t, http.StatusOK, get.StatusCode)

	del := env.do(t, http.MethodDelete, "/api/records/"+id, "")
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	missing := env.do(t, http.MethodGet, "/api/records/"+id, "")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWebSocketChat(t *testing.T) {
	engine := &fakeEngine{
		chunks: []string{`<f>[{"name": "get_current_weather", `, `"arguments": {"location": "Paris"}}]`},
		finish: "stop",
	}
	env := newEnv(t, engine, true)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + PathChatCompletionsWS
	header := http.Header{"Authorization": {"Bearer " + testKey}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(weatherBody)))

	var frames []wsOutgoing
	for {
		var frame wsOutgoing
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
		if frame.Type == wsDone || frame.Type == wsError {
			break
		}
	}

	require.Len(t, frames, 4)
	assert.Equal(t, llm.RoleAssistant, frames[0].Data.Choices[0].Delta.Role)
	calls := frames[1].Data.Choices[0].Delta.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "get_current_weather", calls[0].Function.Name)
	assert.Equal(t, llm.FinishToolCalls, *frames[2].Data.Choices[0].FinishReason)
	assert.Equal(t, wsDone, frames[3].Type)

	// A second request on the same connection reports errors in-band.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages": []}`)))
	var frame wsOutgoing
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, wsError, frame.Type)
	assert.Equal(t, "invalid_request_error", frame.Error.Type)
}

func TestWebSocketRequiresAuth(t *testing.T) {
	env := newEnv(t, &fakeEngine{}, true)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + PathChatCompletionsWS
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

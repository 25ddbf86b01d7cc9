package decode

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/prompt"
)

func completion(text string, finish string) *llm.Completion {
	return &llm.Completion{
		ID:      "cmpl-1",
		Object:  llm.ObjectTextCompletion,
		Created: 1700000000,
		Model:   "empower-functions",
		Choices: []llm.CompletionChoice{{
			Index:        0,
			Text:         text,
			FinishReason: llm.String(finish),
		}},
		Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestDecodeProse(t *testing.T) {
	got, err := Decode(completion("<c>Hello", "length"))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", got.ID)
	assert.Equal(t, llm.ObjectChatCompletion, got.Object)
	assert.Equal(t, int64(1700000000), got.Created)
	assert.Equal(t, "empower-functions", got.Model)
	require.Len(t, got.Choices, 1)

	msg := got.Choices[0].Message
	assert.Equal(t, llm.RoleAssistant, msg.Role)
	assert.Equal(t, "Hello", msg.Text())
	assert.Empty(t, msg.ToolCalls)
	require.NotNil(t, got.Choices[0].FinishReason)
	assert.Equal(t, "length", *got.Choices[0].FinishReason)
	assert.Equal(t, int64(15), got.Usage.TotalTokens)
}

func TestDecodeToolCalls(t *testing.T) {
	text := `<f>[{"name":"f","arguments":{"x":1}},{"name":"g","arguments":"{\"q\": \"é\"}"}]`
	got, err := Decode(completion(text, "stop"))
	require.NoError(t, err)

	choice := got.Choices[0]
	assert.Nil(t, choice.Message.Content)
	require.NotNil(t, choice.FinishReason)
	assert.Equal(t, llm.FinishToolCalls, *choice.FinishReason)

	require.Len(t, choice.Message.ToolCalls, 2)
	first := choice.Message.ToolCalls[0]
	assert.Equal(t, "call__0_f_cmpl-1_0", first.ID)
	assert.Equal(t, "function", first.Type)
	assert.Equal(t, "f", first.Function.Name)
	assert.Equal(t, `{"x": 1}`, first.Function.ArgumentsString())

	second := choice.Message.ToolCalls[1]
	assert.Equal(t, "call__0_g_cmpl-1_1", second.ID)
	assert.Equal(t, `{"q": "é"}`, second.Function.ArgumentsString())
}

func TestDecodeToolCallRoundTrip(t *testing.T) {
	var msgs []llm.ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`[
		{"role":"user","content":"q"},
		{"role":"assistant","tool_calls":[{"id":"c1","function":{"name":"f","arguments":{"x":1}}}]}
	]`), &msgs))

	tagged, err := prompt.NewEncoder(prompt.DefaultOptions()).EncodeMessages(msgs, nil, false)
	require.NoError(t, err)
	require.Len(t, tagged, 2)

	got, err := Decode(completion(tagged[1].Content(), "stop"))
	require.NoError(t, err)
	calls := got.Choices[0].Message.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "f", calls[0].Function.Name)
	assert.Equal(t, `{"x": 1}`, calls[0].Function.ArgumentsString())
}

func TestDecodeToolCallsOverridesFinishReason(t *testing.T) {
	got, err := Decode(completion(`<f>[{"name":"f","arguments":{}}]`, "length"))
	require.NoError(t, err)
	assert.Equal(t, llm.FinishToolCalls, *got.Choices[0].FinishReason)
}

func TestDecodeThinking(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantContent  *string
		wantThinking *string
		wantCalls    int
	}{
		{
			name:         "untagged remainder is verbatim",
			text:         "<thinking>plan</thinking>Hello",
			wantContent:  llm.String("<thinking>plan</thinking>Hello"),
			wantThinking: llm.String("<thinking>plan</thinking>"),
		},
		{
			name:         "prose keeps thinking",
			text:         "<thinking>plan</thinking><c>Hello",
			wantContent:  llm.String("<thinking>plan</thinking>Hello"),
			wantThinking: llm.String("<thinking>plan</thinking>"),
		},
		{
			name:         "tool call content is thinking",
			text:         `< thinking >call f</thinking><f>[{"name":"f","arguments":{}}]`,
			wantContent:  llm.String("< thinking >call f</thinking>"),
			wantThinking: llm.String("< thinking >call f</thinking>"),
			wantCalls:    1,
		},
		{
			name:        "no thinking",
			text:        "plain text",
			wantContent: llm.String("plain text"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeText(tt.text, "id")
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, res.Content)
			assert.Equal(t, tt.wantThinking, res.Thinking)
			assert.Len(t, res.ToolCalls, tt.wantCalls)
		})
	}
}

func TestSplitThinking(t *testing.T) {
	thinking, rest := SplitThinking("a</thinking>b</thinking>c")
	require.NotNil(t, thinking)
	assert.Equal(t, "a</thinking>", *thinking)
	assert.Equal(t, "b</thinking>c", rest)

	thinking, rest = SplitThinking("abc")
	assert.Nil(t, thinking)
	assert.Equal(t, "abc", rest)
}

func TestDecodeMalformedToolCalls(t *testing.T) {
	for _, text := range []string{
		`<f>[{"name":"f","arguments":`,
		`<f>{"name":"f","arguments":{}}`,
		`<f>null`,
		`<f>[{"arguments":{}}]`,
		`<f>[{"name":"f"}]`,
	} {
		_, err := Decode(completion(text, "stop"))
		require.Error(t, err, text)
		assert.True(t, errors.Is(err, ErrDecode), text)

		var decErr *Error
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, text, decErr.Raw)
	}
}

func TestArgumentsString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"{\"a\":1}"`, `{"a":1}`},
		{`{"a":1,"b":[1,2]}`, `{"a": 1, "b": [1, 2]}`},
		{`{"s":"x, y: z"}`, `{"s": "x, y: z"}`},
		{`{"s":"quote \" , :"}`, `{"s": "quote \" , :"}`},
		{`{"city":"Zürich"}`, `{"city": "Z\u00fcrich"}`},
		{`  7 `, `7`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, argumentsString(json.RawMessage(tt.raw)), tt.raw)
	}
}

func TestChatCompletionJSON(t *testing.T) {
	got, err := Decode(completion(`<f>[{"name":"f","arguments":{"x":1}}]`, "stop"))
	require.NoError(t, err)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "empower-functions",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [{
					"id": "call__0_f_cmpl-1_0",
					"type": "function",
					"function": {"name": "f", "arguments": "{\"x\": 1}"}
				}]
			},
			"logprobs": null,
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, string(data))
}

func TestDecodeEmptyCallList(t *testing.T) {
	got, err := Decode(completion("<f>[]", "stop"))
	require.NoError(t, err)

	msg := got.Choices[0].Message
	assert.NotNil(t, msg.ToolCalls)
	assert.Empty(t, msg.ToolCalls)
	assert.Equal(t, llm.FinishToolCalls, *got.Choices[0].FinishReason)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "assistant", "content": null, "tool_calls": []}`, string(data))
}

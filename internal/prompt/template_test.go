package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/funcgate/internal/llm"
)

const generationHeader = "<|start_header_id|>assistant<|end_header_id|>\n\n"

func TestRenderDefaultTemplate(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	got, err := r.Render([]TaggedMessage{
		{Role: llm.RoleUser, Body: "  hi  \n"},
		{Role: llm.RoleAssistant, Tag: TagProse, Body: "hello"},
		{Role: llm.RoleUser, Tag: TagUser, Body: "bye"},
	})
	require.NoError(t, err)

	want := "<|begin_of_text|>" +
		"<|start_header_id|>user<|end_header_id|>\n\nhi<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n<c>hello<|eot_id|>" +
		"<|start_header_id|>user<|end_header_id|>\n\n<u>bye<|eot_id|>" +
		generationHeader
	assert.Equal(t, want, got)
}

func TestRenderEncodedConversation(t *testing.T) {
	msgs := decodeMessages(t, `[
		{"role":"system","content":"Use tools."},
		{"role":"user","content":"weather?"},
		{"role":"assistant","tool_calls":[{"id":"c1","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"{\"temp\":20}"},
		{"role":"user","content":"and tomorrow?"}
	]`)

	tagged, err := NewEncoder(DefaultOptions()).EncodeMessages(msgs, decodeDefs(t, weatherDefs), true)
	require.NoError(t, err)

	r, err := NewRenderer(DefaultTemplate)
	require.NoError(t, err)
	got, err := r.Render(tagged)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\nUse tools.\nMake sure"))
	assert.True(t, strings.HasSuffix(got, "<u>and tomorrow?<|eot_id|>"+generationHeader))
	assert.Equal(t, 1, strings.Count(got, "<|begin_of_text|>"))
	assert.Equal(t, 2, strings.Count(got, generationHeader), "one assistant turn plus the generation header")
	assert.Equal(t, len(tagged), strings.Count(got, EndOfTurn))
	assert.NotContains(t, got, "<no value>")
}

func TestRenderChatMissingContent(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)

	_, err = r.RenderChat([]llm.ChatMessage{{Role: llm.RoleUser}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateRender))
}

func TestRenderCustomTemplateMissingKey(t *testing.T) {
	r, err := NewRenderer(`{{range .messages}}{{.name}}{{end}}`)
	require.NoError(t, err)

	_, err = r.Render([]TaggedMessage{{Role: llm.RoleUser, Body: "hi"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateRender))
}

func TestNewRendererParseError(t *testing.T) {
	_, err := NewRenderer(`{{range .messages}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateRender))
}

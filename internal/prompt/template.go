package prompt

import (
	"strings"
	"text/template"

	"github.com/michaelbrown/funcgate/internal/llm"
)

// DefaultTemplate is the Llama-3 chat layout. Messages are maps with "role"
// and "content" keys.
const DefaultTemplate = `{{range $i, $m := .messages}}{{if eq $i 0}}<|begin_of_text|>{{end}}<|start_header_id|>{{$m.role}}<|end_header_id|>

{{trim $m.content}}<|eot_id|>{{end}}{{if .add_generation_prompt}}<|start_header_id|>assistant<|end_header_id|>

{{end}}`

// EndOfTurn is the token closing every turn; generation stops on it.
const EndOfTurn = "<|eot_id|>"

// Renderer turns encoded messages into the final prompt string. The
// template sees plain maps and a single helper, and any reference to a
// missing key fails the render.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses text, or DefaultTemplate when text is empty.
func NewRenderer(text string) (*Renderer, error) {
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("prompt").
		Option("missingkey=error").
		Funcs(template.FuncMap{"trim": strings.TrimSpace}).
		Parse(text)
	if err != nil {
		return nil, &Error{Kind: ErrTemplateRender, Msg: "parsing prompt template", Err: err}
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render renders tagged messages followed by the assistant generation header.
func (r *Renderer) Render(messages []TaggedMessage) (string, error) {
	items := make([]map[string]any, len(messages))
	for i, m := range messages {
		items[i] = map[string]any{
			"role":    string(m.Role),
			"content": m.Content(),
		}
	}
	return r.render(items)
}

// RenderChat renders untagged chat messages, as the host's plain chat
// route does. A message without content fails the render.
func (r *Renderer) RenderChat(messages []llm.ChatMessage) (string, error) {
	items := make([]map[string]any, len(messages))
	for i, m := range messages {
		item := map[string]any{"role": string(m.Role)}
		if m.Content != nil {
			item["content"] = *m.Content
		}
		items[i] = item
	}
	return r.render(items)
}

func (r *Renderer) render(items []map[string]any) (string, error) {
	var b strings.Builder
	data := map[string]any{
		"messages":              items,
		"add_generation_prompt": true,
	}
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", &Error{Kind: ErrTemplateRender, Msg: "rendering prompt", Err: err}
	}
	return b.String(), nil
}

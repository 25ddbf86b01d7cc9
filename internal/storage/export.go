package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a record as a markdown document.
func ExportMarkdown(r *Record) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Completion %s\n\n", r.ID))
	b.WriteString(fmt.Sprintf("- **Model:** %s\n", r.Model))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", r.Status))
	if r.FinishReason != "" {
		b.WriteString(fmt.Sprintf("- **Finish reason:** %s\n", r.FinishReason))
	}
	b.WriteString(fmt.Sprintf("- **Stream:** %t\n", r.Stream))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", r.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Duration:** %s\n", r.Duration))
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("- **Error:** %s\n", r.Error))
	}
	b.WriteString("\n---\n\n")

	b.WriteString(fmt.Sprintf("## Prompt\n\n```\n%s\n```\n\n", r.Prompt))
	b.WriteString(fmt.Sprintf("## Raw output\n\n```\n%s\n```\n\n", r.RawText))

	if len(r.Response) > 0 {
		b.WriteString(fmt.Sprintf("<details>\n<summary>Response</summary>\n\n```json\n%s\n```\n</details>\n\n", indent(r.Response)))
	}

	return b.String()
}

// ExportJSON renders a record as formatted JSON.
func ExportJSON(r *Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func indent(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}

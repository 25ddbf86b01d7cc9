package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/funcgate/internal/llm"
)

var (
	requestFile string
	promptJSON  bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show the engine prompt built for a chat request",
	Long: `Read a chat completion request and print the tagged turns and the
rendered prompt that would be sent to the engine. Nothing is sent.

The request may be JSON or YAML; "-" reads standard input.

Examples:
  funcgate prompt -f request.json
  funcgate prompt -f request.yaml --json`,
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().StringVarP(&requestFile, "file", "f", "-", "Request file (JSON or YAML)")
	promptCmd.Flags().BoolVar(&promptJSON, "json", false, "Print the tagged turns and prompt as JSON")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := readRequest(requestFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	template, err := cfg.Prompt.TemplateText()
	if err != nil {
		return err
	}
	// The engine is never called.
	h, err := newAdapter(cfg, nil, template, nil)
	if err != nil {
		return err
	}

	p, err := h.Prepare(req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if promptJSON {
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"tool_choice": p.Choice.String(),
			"messages":    p.Tagged,
			"prompt":      p.Prompt,
			"stop":        p.Request.Stop,
		})
	}

	fmt.Fprintf(out, "Tool choice: %s\n", p.Choice)
	fmt.Fprintf(out, "Functions:   %d\n", len(p.Functions))
	fmt.Fprintf(out, "Stop:        %q\n\n", p.Request.Stop)
	for _, m := range p.Tagged {
		fmt.Fprintf(out, "── %s %s\n%s\n\n", m.Role, m.Tag, m.Body)
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprint(out, p.Prompt)
	fmt.Fprintln(out)
	return nil
}

// readRequest loads a chat request from a JSON or YAML file.
func readRequest(path string, stdin io.Reader) (*llm.ChatCompletionRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing request: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("parsing request: %w", err)
		}
	}

	var req llm.ChatCompletionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	return &req, nil
}

// Package adapter serves OpenAI chat completions from a text-completion
// engine running a model fine-tuned on the control-tag prompt format.
package adapter

import (
	"bytes"
	"encoding/json"

	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/prompt"
)

// ToolChoice is the resolved tool_choice of a request.
type ToolChoice struct {
	// Mode is "auto", "none" or "function".
	Mode string
	// Function names the requested function when Mode is "function".
	Function string
}

func (c ToolChoice) String() string {
	if c.Mode == ToolChoiceFunction {
		return c.Mode + ":" + c.Function
	}
	return c.Mode
}

const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceFunction = "function"
)

// ResolveToolChoice translates the legacy function_call field into a
// tool_choice and applies the request's tool_choice otherwise. "any" is
// rejected.
func ResolveToolChoice(req *llm.ChatCompletionRequest) (ToolChoice, error) {
	choice := ToolChoice{Mode: ToolChoiceAuto}

	raw := req.ToolChoice
	if !isNull(req.FunctionCall) {
		raw = req.FunctionCall
	}
	if isNull(raw) {
		return choice, nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "any":
			return choice, prompt.Configurationf(`tool_choice "any" is not supported`)
		case ToolChoiceNone:
			choice.Mode = ToolChoiceNone
		}
		return choice, nil
	}

	var named struct {
		Name     string `json:"name"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return choice, prompt.Validationf("tool_choice must be a string or an object: %v", err)
	}
	name := named.Function.Name
	if name == "" {
		name = named.Name
	}
	if name != "" {
		choice = ToolChoice{Mode: ToolChoiceFunction, Function: name}
	}
	return choice, nil
}

// EffectiveFunctions returns the definitions offered to the model: functions
// if given, else the function of every tool. tool_choice "none" offers none.
func EffectiveFunctions(req *llm.ChatCompletionRequest, choice ToolChoice) []llm.FunctionDefinition {
	if choice.Mode == ToolChoiceNone {
		return nil
	}
	if req.Functions != nil {
		return req.Functions
	}
	var defs []llm.FunctionDefinition
	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		defs = append(defs, t.Function)
	}
	return defs
}

// StopSequences returns the request's stop list with the end-of-turn token
// appended.
func StopSequences(stop []string, endOfTurn string) []string {
	out := make([]string, 0, len(stop)+1)
	out = append(out, stop...)
	return append(out, endOfTurn)
}

// EngineRequest builds the text-completion request for a rendered prompt,
// carrying over the chat request's sampling parameters.
func EngineRequest(req *llm.ChatCompletionRequest, text, endOfTurn string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:            req.Model,
		Prompt:           text,
		Stop:             StopSequences(req.Stop, endOfTurn),
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
		Logprobs:         Logprobs(req.Logprobs, req.TopLogprobs),
		Extra:            req.Extra,
	}
}

// Logprobs maps the chat logprobs flag and top_logprobs count onto the
// engine's single integer parameter.
func Logprobs(enabled *bool, top *int64) *int64 {
	if enabled == nil || !*enabled {
		return nil
	}
	return top
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile presets the chat command: model, system prompt and the subset of
// tools offered to the model.
type Profile struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
	MaxIter      int      `yaml:"max_iterations"`
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}

	return &p, nil
}

// Apply sets the profile's system prompt, tool filter and iteration limit
// on a.
func (p *Profile) Apply(a *Agent) {
	a.SetSystemPrompt(p.SystemPrompt)
	a.FilterTools(p.Tools)
	if p.MaxIter > 0 {
		a.maxIter = p.MaxIter
	}
}

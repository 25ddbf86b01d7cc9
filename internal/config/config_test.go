package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "funcgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.Server.Adapter)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Engine.BaseURL)
	assert.Equal(t, int64(1), cfg.Engine.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, 10, cfg.Stream.Buffer)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Chat.MaxIterations)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  api_key: ${FUNCGATE_TEST_KEY}
engine:
  base_url: http://gpu-box:8080/v1
  timeout: 30s
  max_concurrent: 4
stream:
  buffer_tool_calls: true
tools:
  search:
    binary: ./bin/search
    enabled: true
    env:
      TOKEN: ${SEARCH_TOKEN}
`)
	t.Setenv("FUNCGATE_TEST_KEY", "sk-local")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sk-local", cfg.Server.APIKey)
	assert.Equal(t, "http://gpu-box:8080/v1", cfg.Engine.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, int64(4), cfg.Engine.MaxConcurrent)
	assert.True(t, cfg.Stream.BufferToolCalls)

	require.Contains(t, cfg.Tools, "search")
	assert.Equal(t, "./bin/search", cfg.Tools["search"].Binary)
	assert.True(t, cfg.Tools["search"].Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FUNCGATE_ENGINE_MODEL", "empower-functions-medium")
	t.Setenv("FUNCGATE_SERVER_PORT", "8123")

	cfg, err := Load(writeConfig(t, "engine:\n  model: other\n"))
	require.NoError(t, err)

	assert.Equal(t, "empower-functions-medium", cfg.Engine.Model)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestTemplateText(t *testing.T) {
	text, err := PromptConfig{}.TemplateText()
	require.NoError(t, err)
	assert.Empty(t, text)

	path := filepath.Join(t.TempDir(), "chatml.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("{{range .messages}}{{.content}}{{end}}"), 0o644))
	text, err = PromptConfig{Template: path}.TemplateText()
	require.NoError(t, err)
	assert.Contains(t, text, "range .messages")
}

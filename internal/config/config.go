package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/michaelbrown/funcgate/internal/tools"
)

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	// Adapter replaces the host chat route with the function-calling one.
	Adapter bool `mapstructure:"adapter"`
}

type EngineConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

type PromptConfig struct {
	Instruction       string `mapstructure:"instruction"`
	ThinkingDirective string `mapstructure:"thinking_directive"`
	// Template is a path to a text/template file; empty uses the built-in
	// Llama-3 layout.
	Template  string `mapstructure:"template"`
	StopToken string `mapstructure:"stop_token"`
}

type StreamConfig struct {
	Buffer          int  `mapstructure:"buffer"`
	BufferToolCalls bool `mapstructure:"buffer_tool_calls"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ChatConfig struct {
	ServerURL     string `mapstructure:"server_url"`
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

type Config struct {
	Server  ServerConfig                      `mapstructure:"server"`
	Engine  EngineConfig                      `mapstructure:"engine"`
	Prompt  PromptConfig                      `mapstructure:"prompt"`
	Stream  StreamConfig                      `mapstructure:"stream"`
	Storage StorageConfig                     `mapstructure:"storage"`
	Log     LogConfig                         `mapstructure:"log"`
	Chat    ChatConfig                        `mapstructure:"chat"`
	Tools   map[string]tools.ToolServerConfig `mapstructure:"tools"`
}

// Load reads the config file at path, or funcgate.yaml from the working
// directory or $HOME/.funcgate when path is empty. A missing default file
// is not an error. FUNCGATE_* environment variables override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FUNCGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.adapter", true)
	v.SetDefault("engine.base_url", "http://localhost:8080/v1")
	v.SetDefault("engine.api_key", "")
	v.SetDefault("engine.model", "")
	v.SetDefault("engine.timeout", 10*time.Minute)
	v.SetDefault("engine.max_concurrent", 1)
	v.SetDefault("prompt.instruction", "")
	v.SetDefault("prompt.thinking_directive", "")
	v.SetDefault("prompt.template", "")
	v.SetDefault("prompt.stop_token", "")
	v.SetDefault("stream.buffer", 10)
	v.SetDefault("stream.buffer_tool_calls", false)
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", filepath.Join(home, ".funcgate", "funcgate.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("chat.server_url", "http://localhost:8000/v1")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.model", "")
	v.SetDefault("chat.max_iterations", 10)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("funcgate")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.funcgate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Server.APIKey = expandEnv(cfg.Server.APIKey)
	cfg.Engine.APIKey = expandEnv(cfg.Engine.APIKey)
	cfg.Chat.APIKey = expandEnv(cfg.Chat.APIKey)

	return &cfg, nil
}

// expandEnv replaces a value of the form ${VAR} with the variable's value.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// TemplateText returns the configured prompt template, read from disk, or
// "" for the built-in one.
func (c PromptConfig) TemplateText() (string, error) {
	if c.Template == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Template)
	if err != nil {
		return "", fmt.Errorf("reading prompt template: %w", err)
	}
	return string(data), nil
}

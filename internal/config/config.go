// Package config loads the application configuration from a YAML file and
// AVATAR_* environment overrides. Provider API keys may also arrive through
// the providers' own native variables (DEEPGRAM_API_KEY, AZURE_SPEECH_KEY,
// OPENAI_API_KEY); values set here win.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Capture CaptureConfig `mapstructure:"capture"`
	Agent   AgentConfig   `mapstructure:"agent"`
	History HistoryConfig `mapstructure:"history"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	APIKey      string  `mapstructure:"api_key"`
	Deployment  string  `mapstructure:"deployment"`
	APIVersion  string  `mapstructure:"api_version"`
	TokenParam  string  `mapstructure:"token_param"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// SpeechConfig configures synthesis.
type SpeechConfig struct {
	Key      string `mapstructure:"key"`
	Region   string `mapstructure:"region"`
	Voice    string `mapstructure:"voice"`
	Language string `mapstructure:"language"`
}

// CaptureConfig configures recognition.
type CaptureConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

// AgentConfig configures the turn driver.
type AgentConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// HistoryConfig configures turn persistence. An empty path disables it.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultSystemPrompt suits replies that are spoken, not read.
const DefaultSystemPrompt = "You are a friendly avatar assistant. Keep replies short and conversational; they will be spoken aloud."

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.deployment", "gpt-4o")
	v.SetDefault("llm.api_version", "2024-02-15-preview")
	v.SetDefault("llm.token_param", "max_tokens")
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("speech.key", "")
	v.SetDefault("speech.region", "")
	v.SetDefault("speech.voice", "en-US-AvaNeural")
	v.SetDefault("speech.language", "en-US")

	v.SetDefault("capture.provider", "deepgram")
	v.SetDefault("capture.api_key", "")
	v.SetDefault("capture.model", "nova-2")
	v.SetDefault("capture.language", "en-US")

	v.SetDefault("agent.system_prompt", DefaultSystemPrompt)
	v.SetDefault("agent.history_limit", 16)

	v.SetDefault("history.path", "")
}

// Load reads configuration from path, or when path is empty, from
// config.yaml in the working directory or ~/.avatar-go. A missing file in
// search mode falls back to defaults; a missing explicit path is an error.
// Environment overrides use the AVATAR_ prefix with underscores, for
// example AVATAR_SPEECH_VOICE for speech.voice.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.avatar-go")
	}

	v.SetEnvPrefix("AVATAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

package openai

import (
	"os"

	"github.com/chriscow/avatar-agents-go/pkg/plugin"
)

// newLLM is the registry factory for the chat completion provider.
func newLLM(cfg map[string]any) (any, error) {
	config := Config{}

	if apiKey, ok := cfg["api_key"].(string); ok {
		config.APIKey = apiKey
	} else {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if endpoint, ok := cfg["endpoint"].(string); ok {
		config.Endpoint = endpoint
	} else {
		config.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
	}

	if deployment, ok := cfg["deployment"].(string); ok {
		config.Deployment = deployment
	}
	if apiVersion, ok := cfg["api_version"].(string); ok {
		config.APIVersion = apiVersion
	}
	if model, ok := cfg["model"].(string); ok {
		config.Model = model
	}
	if tokenParam, ok := cfg["token_param"].(string); ok {
		config.TokenParam = tokenParam
	}

	return New(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "openai",
		Factory:     newLLM,
		Description: "OpenAI / Azure OpenAI chat completion service",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":     "API key (or set OPENAI_API_KEY env var)",
			"endpoint":    "Azure resource endpoint (or set AZURE_OPENAI_ENDPOINT); empty for api.openai.com",
			"deployment":  "Azure deployment name, e.g. gpt-4o",
			"api_version": "Azure API version, e.g. 2024-02-15-preview",
			"model":       "gpt-4o",
			"token_param": "max_tokens or max_completion_tokens",
		},
	})
}

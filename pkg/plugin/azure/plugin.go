package azure

import (
	"os"

	"github.com/chriscow/avatar-agents-go/pkg/plugin"
)

// newTTS is the registry factory for the speech synthesis provider.
func newTTS(cfg map[string]any) (any, error) {
	config := Config{}

	if key, ok := cfg["key"].(string); ok {
		config.Key = key
	} else {
		config.Key = os.Getenv("AZURE_SPEECH_KEY")
	}

	if region, ok := cfg["region"].(string); ok {
		config.Region = region
	} else {
		config.Region = os.Getenv("AZURE_SPEECH_REGION")
	}

	if endpoint, ok := cfg["endpoint"].(string); ok {
		config.Endpoint = endpoint
	}
	if voice, ok := cfg["voice"].(string); ok {
		config.Voice = voice
	}
	if language, ok := cfg["language"].(string); ok {
		config.Language = language
	}

	return New(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "azure",
		Factory:     newTTS,
		Description: "Azure Speech text-to-speech with word boundary timings",
		Version:     "1.0.0",
		Config: map[string]any{
			"key":      "Speech subscription key (or set AZURE_SPEECH_KEY env var)",
			"region":   "Azure region, e.g. eastus (or set AZURE_SPEECH_REGION env var)",
			"endpoint": "full websocket endpoint override",
			"voice":    DefaultVoice,
			"language": "en-US",
		},
	})
}

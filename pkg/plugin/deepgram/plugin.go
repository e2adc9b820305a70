package deepgram

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/chriscow/avatar-agents-go/pkg/audio"
	"github.com/chriscow/avatar-agents-go/pkg/plugin"
)

func newSTT(cfg map[string]any) (any, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	model, _ := cfg["model"].(string)
	endpoint, _ := cfg["endpoint"].(string)

	sampleRate := 16000
	if v, ok := cfg["sample_rate"].(int); ok && v > 0 {
		sampleRate = v
	}

	source, _ := cfg["source"].(audio.CaptureSource)
	if source == nil {
		source = audio.NewMicrophone(sampleRate, slog.Default())
	}

	provider, err := New(source, Config{
		APIKey:   apiKey,
		Endpoint: endpoint,
		Model:    model,
	})
	if err != nil {
		return nil, fmt.Errorf("create Deepgram STT: %w", err)
	}
	return provider, nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "deepgram",
		Factory:     newSTT,
		Description: "Deepgram streaming speech recognition",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":     "Deepgram API key (or set DEEPGRAM_API_KEY env var)",
			"model":       "recognition model, default nova-2",
			"endpoint":    "listen endpoint override",
			"sample_rate": "capture sample rate in Hz, default 16000",
			"source":      "audio.CaptureSource override; defaults to the system microphone",
		},
	})
}

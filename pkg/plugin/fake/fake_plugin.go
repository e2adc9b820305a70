// Package fake registers fake implementations of every provider kind so
// commands and demos can run the full conversation loop with no network
// access and no API keys.
package fake

import (
	llmfake "github.com/chriscow/avatar-agents-go/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/avatar-agents-go/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/avatar-agents-go/pkg/ai/tts/fake"
	avatarfake "github.com/chriscow/avatar-agents-go/pkg/avatar/fake"
	"github.com/chriscow/avatar-agents-go/pkg/plugin"
)

func newFakeSTT(cfg map[string]any) (any, error) {
	return sttfake.NewFakeSTT(), nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	return ttsfake.NewFakeTTS(), nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	responses := []string{
		"Hello! I'm a scripted assistant.",
		"That's interesting, tell me more.",
		"I see. Anything else on your mind?",
	}
	if r, ok := cfg["responses"].([]string); ok && len(r) > 0 {
		responses = r
	}
	return llmfake.NewFakeLLM(responses...), nil
}

func newFakeRenderer(cfg map[string]any) (any, error) {
	return avatarfake.NewFakeRenderer(), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "fake",
		Factory:     newFakeSTT,
		Description: "Fake STT provider with scriptable sessions",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "fake",
		Factory:     newFakeTTS,
		Description: "Fake TTS provider producing silent clips with word timings",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "fake",
		Factory:     newFakeLLM,
		Description: "Fake LLM provider cycling through canned responses",
		Version:     "1.0.0",
		Config: map[string]any{
			"responses": []string{"list of canned responses"},
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindRenderer,
		Name:        "fake",
		Factory:     newFakeRenderer,
		Description: "Fake avatar renderer with manual completion control",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})
}

package plugin

import (
	"fmt"
	"strings"

	"github.com/chriscow/avatar-agents-go/pkg/ai/llm"
	"github.com/chriscow/avatar-agents-go/pkg/ai/stt"
	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	"github.com/chriscow/avatar-agents-go/pkg/avatar"
)

// CreateSTT instantiates a registered recognizer by name.
func CreateSTT(name string, cfg map[string]any) (stt.STT, error) {
	inst, err := create(KindSTT, name, cfg)
	if err != nil {
		return nil, err
	}
	provider, ok := inst.(stt.STT)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s does not implement stt.STT", KindSTT, name)
	}
	return provider, nil
}

// CreateTTS instantiates a registered synthesizer by name.
func CreateTTS(name string, cfg map[string]any) (tts.TTS, error) {
	inst, err := create(KindTTS, name, cfg)
	if err != nil {
		return nil, err
	}
	provider, ok := inst.(tts.TTS)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s does not implement tts.TTS", KindTTS, name)
	}
	return provider, nil
}

// CreateLLM instantiates a registered language model by name.
func CreateLLM(name string, cfg map[string]any) (llm.LLM, error) {
	inst, err := create(KindLLM, name, cfg)
	if err != nil {
		return nil, err
	}
	provider, ok := inst.(llm.LLM)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s does not implement llm.LLM", KindLLM, name)
	}
	return provider, nil
}

// CreateRenderer instantiates a registered renderer by name.
func CreateRenderer(name string, cfg map[string]any) (avatar.Renderer, error) {
	inst, err := create(KindRenderer, name, cfg)
	if err != nil {
		return nil, err
	}
	renderer, ok := inst.(avatar.Renderer)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s does not implement avatar.Renderer", KindRenderer, name)
	}
	return renderer, nil
}

// Names returns the registered provider names for a kind, sorted.
func Names(kind string) []string {
	plugins := List(kind)
	names := make([]string, 0, len(plugins))
	for _, p := range plugins {
		names = append(names, p.Name)
	}
	return names
}

func create(kind, name string, cfg map[string]any) (any, error) {
	factory, ok := Get(kind, name)
	if !ok {
		return nil, fmt.Errorf("no %s provider %q (registered: %s)",
			kind, name, strings.Join(Names(kind), ", "))
	}
	inst, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, name, err)
	}
	return inst, nil
}

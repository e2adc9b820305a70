package tts

import (
	"context"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
)

// ErrSynthesis is re-exported so call sites can classify failures without
// importing ai directly.
var ErrSynthesis = ai.ErrSynthesis

// WordBoundary locates one spoken word within the waveform. Providers
// convert their native offset units at the boundary; consumers only ever
// see durations.
type WordBoundary struct {
	Word     string
	Start    time.Duration
	Duration time.Duration
}

// End returns the offset at which the word stops being audible.
func (w WordBoundary) End() time.Duration {
	return w.Start + w.Duration
}

// Utterance is the product of one synthesis: the text, its waveform and the
// word timings that drive lip sync. Immutable after creation and consumed
// exactly once by playback.
type Utterance struct {
	Text  string
	Audio audio.PCM
	Words []WordBoundary
}

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
	Pitch    float32
}

// TTSCapabilities describes what a synthesis provider can do.
type TTSCapabilities struct {
	SupportsSSML           bool
	SupportsWordBoundaries bool
	SampleRates            []int
	SupportedLanguages     []string
}

// TTS is the interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text into a complete utterance. An empty or
	// failed synthesis returns an error wrapping ErrSynthesis.
	Synthesize(ctx context.Context, req SynthesizeRequest) (*Utterance, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() TTSCapabilities
}

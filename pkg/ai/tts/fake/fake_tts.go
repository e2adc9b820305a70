package fake

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
)

// FakeTTS synthesizes a sine-wave utterance with evenly spaced word
// boundaries, so coordination tests get real durations and timings without
// a network call.
type FakeTTS struct {
	SampleRate   int
	WordDuration time.Duration
	Err          error // returned by Synthesize when set

	mu    sync.Mutex
	calls []tts.SynthesizeRequest
}

// NewFakeTTS creates a fake TTS provider. Defaults: 24 kHz, 300 ms per word.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{
		SampleRate:   24000,
		WordDuration: 300 * time.Millisecond,
	}
}

// Synthesize generates a sine wave whose duration is WordDuration per word.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Utterance, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.Err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	words := strings.Fields(req.Text)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: nothing to say", tts.ErrSynthesis)
	}

	total := time.Duration(len(words)) * f.WordDuration
	samples := int(total * time.Duration(f.SampleRate) / time.Second)
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		sample := 0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate))
		v := int16(sample * 32767)
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	clip, err := audio.NewPCM(data, f.SampleRate, 1)
	if err != nil {
		return nil, err
	}

	boundaries := make([]tts.WordBoundary, len(words))
	for i, w := range words {
		boundaries[i] = tts.WordBoundary{
			Word:     w,
			Start:    time.Duration(i) * f.WordDuration,
			Duration: f.WordDuration,
		}
	}

	return &tts.Utterance{Text: req.Text, Audio: clip, Words: boundaries}, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeTTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		SupportsSSML:           false,
		SupportsWordBoundaries: true,
		SampleRates:            []int{24000},
		SupportedLanguages:     []string{"en-US"},
	}
}

// Calls returns the requests seen so far.
func (f *FakeTTS) Calls() []tts.SynthesizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tts.SynthesizeRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

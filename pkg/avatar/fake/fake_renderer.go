// Package fake provides a scriptable avatar renderer for testing. Tests
// decide if and when the completion callback fires, which makes it easy to
// exercise the fallback paths real renderers force callers to carry.
package fake

import (
	"context"
	"sync"

	"github.com/chriscow/avatar-agents-go/pkg/avatar"
	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
)

// SpeakCall records one SpeakAudio invocation.
type SpeakCall struct {
	Utterance *tts.Utterance
	Timeline  *avatar.VisemeTimeline
}

// FakeRenderer records renderer calls and exposes controllable completion.
type FakeRenderer struct {
	mu         sync.Mutex
	err        error
	speaks     []SpeakCall
	moods      []avatar.Mood
	stops      int
	onComplete func()
}

// NewFakeRenderer creates a fake renderer.
func NewFakeRenderer() *FakeRenderer {
	return &FakeRenderer{}
}

// FailWith makes every subsequent SpeakAudio return err. Pass nil to heal.
func (r *FakeRenderer) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// SpeakAudio records the call and holds onComplete until the test releases
// it with CompleteSpeech.
func (r *FakeRenderer) SpeakAudio(ctx context.Context, u *tts.Utterance, timeline *avatar.VisemeTimeline, onComplete func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.speaks = append(r.speaks, SpeakCall{Utterance: u, Timeline: timeline})
	r.onComplete = onComplete
	return nil
}

// StopSpeaking cancels the in-flight animation. The held completion
// callback is discarded, never invoked.
func (r *FakeRenderer) StopSpeaking() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.onComplete = nil
}

// SetMood records the mood change.
func (r *FakeRenderer) SetMood(mood avatar.Mood) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moods = append(r.moods, mood)
}

// CompleteSpeech fires the held completion callback, as a real renderer
// would when the animation finishes. No-op when nothing is speaking or
// after StopSpeaking.
func (r *FakeRenderer) CompleteSpeech() {
	r.mu.Lock()
	cb := r.onComplete
	r.onComplete = nil
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Speaks returns every recorded SpeakAudio call.
func (r *FakeRenderer) Speaks() []SpeakCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SpeakCall, len(r.speaks))
	copy(out, r.speaks)
	return out
}

// Moods returns every recorded mood change in order.
func (r *FakeRenderer) Moods() []avatar.Mood {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]avatar.Mood, len(r.moods))
	copy(out, r.moods)
	return out
}

// StopCount returns how many times StopSpeaking was called.
func (r *FakeRenderer) StopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// Speaking reports whether an animation is in flight (started, neither
// completed nor stopped).
func (r *FakeRenderer) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onComplete != nil
}

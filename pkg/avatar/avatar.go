// Package avatar defines the renderer contract for avatar animation and
// the viseme timeline that drives lip-sync.
//
// Renderers are muted by contract: the audible waveform plays through the
// shared audio device only, and the renderer consumes the same utterance
// purely to animate. Two audible sources would feed the microphone the
// avatar's own speech.
package avatar

import (
	"context"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
)

// Mood is the avatar's emotional presentation.
type Mood string

const (
	MoodNeutral   Mood = "neutral"
	MoodHappy     Mood = "happy"
	MoodSad       Mood = "sad"
	MoodAngry     Mood = "angry"
	MoodSurprised Mood = "surprised"
	MoodThinking  Mood = "thinking"
)

// Renderer animates the avatar.
type Renderer interface {
	// SpeakAudio begins the lip-sync animation for an utterance and
	// returns without waiting for it. onComplete is invoked at most once,
	// when the animation finishes naturally; it is not invoked after
	// StopSpeaking. Completion is advisory: callers must not rely on it
	// firing and should carry their own fallback.
	SpeakAudio(ctx context.Context, u *tts.Utterance, timeline *VisemeTimeline, onComplete func()) error

	// StopSpeaking cancels any in-flight animation. Safe when idle.
	StopSpeaking()

	// SetMood switches the avatar's emotional presentation.
	SetMood(mood Mood)
}

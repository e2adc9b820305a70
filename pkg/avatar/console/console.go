// Package console renders the avatar as word-paced terminal captions.
// Useful for running the agent without a graphical front end: words print
// as they would be spoken and mood changes appear inline.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/avatar"
	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
)

// Renderer prints word-aligned captions. It implements avatar.Renderer.
type Renderer struct {
	mu   sync.Mutex
	out  io.Writer
	stop chan struct{} // current animation, nil when idle
}

// Option configures the renderer.
type Option func(*Renderer)

// WithWriter redirects caption output.
func WithWriter(w io.Writer) Option {
	return func(r *Renderer) { r.out = w }
}

// New creates a console renderer writing to stdout.
func New(opts ...Option) *Renderer {
	r := &Renderer{out: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SpeakAudio prints each word at its boundary offset, then invokes
// onComplete once the waveform duration has elapsed. A second call
// replaces any animation still in flight.
func (r *Renderer) SpeakAudio(ctx context.Context, u *tts.Utterance, _ *avatar.VisemeTimeline, onComplete func()) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r.mu.Lock()
	r.stopCurrentLocked()
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	go r.run(ctx, u, stop, onComplete)
	return nil
}

// StopSpeaking cancels the in-flight animation. Safe when idle.
func (r *Renderer) StopSpeaking() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCurrentLocked()
}

// SetMood prints the mood change inline.
func (r *Renderer) SetMood(mood avatar.Mood) {
	r.printf("[mood: %s]\n", mood)
}

func (r *Renderer) run(ctx context.Context, u *tts.Utterance, stop chan struct{}, onComplete func()) {
	defer func() {
		r.mu.Lock()
		if r.stop == stop {
			r.stop = nil
		}
		r.mu.Unlock()
	}()

	start := time.Now()
	for _, w := range u.Words {
		if !r.waitUntil(ctx, stop, start, w.Start) {
			return
		}
		r.printf("%s ", w.Word)
	}

	// Hold until the waveform would have finished, so completion lines up
	// with the audible end rather than the last word's start.
	tail := u.Audio.Duration()
	if n := len(u.Words); n > 0 {
		if end := u.Words[n-1].End(); end > tail {
			tail = end
		}
	}
	if !r.waitUntil(ctx, stop, start, tail) {
		return
	}

	r.printf("\n")
	onComplete()
}

// waitUntil sleeps until offset past start. Returns false when the
// animation was stopped or the context cancelled.
func (r *Renderer) waitUntil(ctx context.Context, stop chan struct{}, start time.Time, offset time.Duration) bool {
	remaining := offset - time.Since(start)
	if remaining <= 0 {
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *Renderer) stopCurrentLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

package fake

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai/stt"
)

// FakeSTT is a scriptable recognizer for testing. Tests drive each session
// by hand: emit interim and final transcripts, errors, or a spurious end,
// in whatever order the scenario needs.
type FakeSTT struct {
	mu       sync.Mutex
	startErr error
	sessions []*FakeSession
}

// NewFakeSTT creates a fake recognizer.
func NewFakeSTT() *FakeSTT {
	return &FakeSTT{}
}

// FailStartWith makes every subsequent Start return err. Pass nil to heal.
func (f *FakeSTT) FailStartWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// Start opens a new scripted session.
func (f *FakeSTT) Start(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	s := &FakeSession{
		cfg:    cfg,
		events: make(chan stt.SpeechEvent, 16),
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Capabilities returns the fake recognizer's capabilities.
func (f *FakeSTT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en-US"},
		SampleRates:        []int{16000},
	}
}

// Sessions returns every session opened so far.
func (f *FakeSTT) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeSession, len(f.sessions))
	copy(out, f.sessions)
	return out
}

// StartCount returns how many sessions were opened.
func (f *FakeSTT) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// FakeSession is one scripted recognition session.
type FakeSession struct {
	cfg    stt.SessionConfig
	events chan stt.SpeechEvent

	mu      sync.Mutex
	ended   bool
	stopped bool
}

// Config returns the session's configuration.
func (s *FakeSession) Config() stt.SessionConfig { return s.cfg }

// Events returns the scripted event stream.
func (s *FakeSession) Events() <-chan stt.SpeechEvent { return s.events }

// Stop marks the session stopped and delivers the end event.
func (s *FakeSession) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.EmitEnd()
	return nil
}

// Stopped reports whether Stop was called.
func (s *FakeSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// EmitInterim delivers a partial transcript.
func (s *FakeSession) EmitInterim(text string) {
	s.emit(stt.SpeechEvent{Type: stt.SpeechEventInterim, Text: text, Timestamp: time.Now()})
}

// EmitFinal delivers a finalized transcript.
func (s *FakeSession) EmitFinal(text string) {
	s.emit(stt.SpeechEvent{Type: stt.SpeechEventFinal, Text: text, Timestamp: time.Now()})
}

// EmitError delivers a recognition error.
func (s *FakeSession) EmitError(err error) {
	s.emit(stt.SpeechEvent{Type: stt.SpeechEventError, Err: err, Timestamp: time.Now()})
}

// EmitEnd delivers the end event and closes the stream. Safe to call more
// than once, so a scripted spurious end and a later Stop cannot collide.
func (s *FakeSession) EmitEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.events <- stt.SpeechEvent{Type: stt.SpeechEventEnd, Timestamp: time.Now()}
	close(s.events)
}

func (s *FakeSession) emit(ev stt.SpeechEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

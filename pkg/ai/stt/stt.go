// Package stt defines the speech recognition contract: continuous sessions
// that emit interim and final transcripts plus an end event. End events can
// fire spuriously on some platforms; telling a genuine stop from a dropped
// session is the caller's job, not the provider's.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai"
)

// Classification re-exports for recognition call sites.
var (
	ErrPermission = ai.ErrRecognitionPermission
	ErrTransient  = ai.ErrRecognitionTransient
)

// IsPermissionDenied reports whether err is a microphone permission denial,
// which is terminal for capture.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermission)
}

// SessionConfig contains configuration for recognition sessions.
type SessionConfig struct {
	Language       string
	InterimResults bool
	Continuous     bool
}

// SpeechEventType represents the type of speech recognition event.
type SpeechEventType int

const (
	// SpeechEventInterim carries a partial transcript that may change.
	SpeechEventInterim SpeechEventType = iota
	// SpeechEventFinal carries a finalized transcript.
	SpeechEventFinal
	// SpeechEventError carries a recognition error; the session keeps
	// running unless an End follows.
	SpeechEventError
	// SpeechEventEnd reports the session is over. May be spurious.
	SpeechEventEnd
)

func (t SpeechEventType) String() string {
	switch t {
	case SpeechEventInterim:
		return "interim"
	case SpeechEventFinal:
		return "final"
	case SpeechEventError:
		return "error"
	case SpeechEventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// SpeechEvent is one recognition event.
type SpeechEvent struct {
	Type      SpeechEventType
	Text      string    // transcript for interim/final events
	Timestamp time.Time // when the provider produced the event
	Err       error     // set for error events
}

// STTCapabilities describes the capabilities of an STT provider.
type STTCapabilities struct {
	Streaming          bool
	InterimResults     bool
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the main interface for speech-to-text providers.
type STT interface {
	// Start opens a recognition session. Permission failures surface
	// either here or as an error event, wrapping ErrPermission.
	Start(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() STTCapabilities
}

// Session is one live recognition stream.
type Session interface {
	// Events returns the event stream. The channel closes after the End
	// event is delivered.
	Events() <-chan SpeechEvent

	// Stop tears the session down. Idempotent.
	Stop() error
}

package ai

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Package ai defines the provider contracts shared by the LLM, TTS and STT
// implementations, along with error classification and retry policy.

// Error classes. Every provider error is either recoverable (retry with
// backoff may succeed) or fatal (retrying cannot help).
var (
	// ErrRecoverable indicates a temporary failure: network timeout, rate
	// limiting, a dropped stream. Retry with backoff.
	ErrRecoverable = errors.New("recoverable provider error")

	// ErrFatal indicates a permanent failure: bad credentials, malformed
	// request, denied permission. Fail fast.
	ErrFatal = errors.New("fatal provider error")
)

// Domain conditions. Each carries its class so that errors.Is answers both
// "what happened" and "may I retry".
var (
	// ErrSynthesis reports that TTS failed or returned no audio. The turn
	// is aborted; the microphone must still be released.
	ErrSynthesis = fmt.Errorf("speech synthesis failed: %w", ErrFatal)

	// ErrRecognitionPermission reports a denied microphone or recognition
	// permission. Terminal for the capture attempt: intent is cleared and
	// no restart is scheduled.
	ErrRecognitionPermission = fmt.Errorf("recognition permission denied: %w", ErrFatal)

	// ErrRecognitionTransient reports a recognition hiccup (no speech,
	// network drop, spurious session end). Restarted while the user still
	// wants to listen, up to the platform retry budget.
	ErrRecognitionTransient = fmt.Errorf("recognition interrupted: %w", ErrRecoverable)

	// ErrLLM reports a chat completion failure after the token-parameter
	// fallback has been attempted.
	ErrLLM = fmt.Errorf("chat completion failed: %w", ErrFatal)
)

// RetryConfig configures backoff for recoverable errors.
type RetryConfig struct {
	MaxRetries    int           // attempts after the first failure
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration // cap on the computed delay
	BackoffFactor float64       // exponential multiplier
	JitterPercent float64       // random jitter fraction (0.0-1.0)
}

// DefaultRetryConfig is a sane starting point for provider calls.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

// Delay returns the backoff delay for a zero-based attempt number,
// exponentially increased, capped at MaxDelay and spread by jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterPercent > 0 {
		j := d * c.JitterPercent
		d = d - j/2 + rand.Float64()*j
	}
	return time.Duration(d)
}

// IsRecoverable reports whether err should be retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal reports whether retrying err cannot help.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification for
// causes that do not map to one of the domain conditions above.
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Underlying.Error()
}

func (e *RetryableError) Unwrap() error {
	if e.Retryable {
		return ErrRecoverable
	}
	return ErrFatal
}

// NewRecoverableError creates a recoverable error with context.
func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  true,
		Message:    message,
	}
}

// NewFatalError creates a fatal error with context.
func NewFatalError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  false,
		Message:    message,
	}
}

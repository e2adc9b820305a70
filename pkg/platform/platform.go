// Package platform centralizes the host-dependent tunables that the audio
// device and the capture controller consume. Audio stacks differ in how
// quickly an output device recovers after suspension and how much tail lag
// follows playback, so every delay, retry budget and threshold lives here
// instead of being sprinkled through the coordination code.
package platform

import (
	"os"
	"runtime"
	"time"
)

// Profile is the set of tunables for one class of host audio stack.
type Profile struct {
	Name string

	// Output device.
	SampleRate         int           // device mix rate in Hz
	ResumeMaxRetries   int           // suspended -> running attempts
	ResumeInitialDelay time.Duration // backoff seed between attempts
	ResumeMaxDelay     time.Duration // backoff cap
	StabilizeDelay     time.Duration // settle time after a successful resume

	// Turn taking.
	OutputGraceWindow   time.Duration // wait after output ends before capture may resume
	PostPlaybackDelay   time.Duration // tail delay before the end notification
	SpeakFallbackBuffer time.Duration // margin over waveform duration for the fallback timer

	// Capture.
	CaptureMaxRetries    int           // session-end restarts before giving up
	CaptureRetryDebounce time.Duration // delay before a session-end restart
	CaptureSampleRate    int           // microphone rate in Hz
	MinTranscriptRunes   int           // shorter finals are discarded as echo
}

// EnvOverride selects a profile by name regardless of the detected host.
const EnvOverride = "AVATAR_PLATFORM"

// Desktop is the default profile: PulseAudio/WASAPI-class hosts resume
// quickly and need little settle time.
func Desktop() Profile {
	return Profile{
		Name:                 "desktop",
		SampleRate:           48000,
		ResumeMaxRetries:     3,
		ResumeInitialDelay:   150 * time.Millisecond,
		ResumeMaxDelay:       2 * time.Second,
		StabilizeDelay:       50 * time.Millisecond,
		OutputGraceWindow:    300 * time.Millisecond,
		PostPlaybackDelay:    200 * time.Millisecond,
		SpeakFallbackBuffer:  750 * time.Millisecond,
		CaptureMaxRetries:    5,
		CaptureRetryDebounce: 250 * time.Millisecond,
		CaptureSampleRate:    16000,
		MinTranscriptRunes:   3,
	}
}

// CoreAudio is the conservative profile: CoreAudio-class hosts take longer
// to hand the device back after suspension and report playback end early,
// so retries, settle time and the grace window are all larger.
func CoreAudio() Profile {
	return Profile{
		Name:                 "coreaudio",
		SampleRate:           44100,
		ResumeMaxRetries:     6,
		ResumeInitialDelay:   300 * time.Millisecond,
		ResumeMaxDelay:       4 * time.Second,
		StabilizeDelay:       250 * time.Millisecond,
		OutputGraceWindow:    700 * time.Millisecond,
		PostPlaybackDelay:    350 * time.Millisecond,
		SpeakFallbackBuffer:  time.Second,
		CaptureMaxRetries:    5,
		CaptureRetryDebounce: 400 * time.Millisecond,
		CaptureSampleRate:    16000,
		MinTranscriptRunes:   3,
	}
}

// Detect returns the profile for the current host. AVATAR_PLATFORM
// overrides detection; unknown values fall back to the detected profile.
func Detect() Profile {
	detected := Desktop()
	if runtime.GOOS == "darwin" {
		detected = CoreAudio()
	}
	switch os.Getenv(EnvOverride) {
	case "desktop":
		return Desktop()
	case "coreaudio":
		return CoreAudio()
	}
	return detected
}

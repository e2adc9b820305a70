package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
	"github.com/chriscow/avatar-agents-go/pkg/avatar"
	"github.com/chriscow/avatar-agents-go/pkg/platform"
)

// OutputListener receives turn-taking notifications around speech output.
// NotifyOutputStarted is delivered before any audio exists anywhere in the
// pipeline; NotifyOutputEnded is delivered exactly once per speak cycle, on
// every path out of it. *CaptureController satisfies this interface.
type OutputListener interface {
	NotifyOutputStarted()
	NotifyOutputEnded()
}

// Playback is the handle for one playing clip.
type Playback interface {
	// Done is closed when the clip has finished or been stopped.
	Done() <-chan struct{}
	// Duration is the natural length of the clip.
	Duration() time.Duration
	// Stop cuts playback immediately. Idempotent.
	Stop()
}

// OutputDevice is the slice of the shared audio device the coordinator
// needs: readiness and playback.
type OutputDevice interface {
	Acquire(ctx context.Context) error
	Play(ctx context.Context, clip audio.PCM) (Playback, error)
}

// DeviceOutput adapts *audio.Device to OutputDevice.
func DeviceOutput(d *audio.Device) OutputDevice { return deviceOutput{dev: d} }

type deviceOutput struct {
	dev *audio.Device
}

func (o deviceOutput) Acquire(ctx context.Context) error { return o.dev.Acquire(ctx) }

func (o deviceOutput) Play(ctx context.Context, clip audio.PCM) (Playback, error) {
	pb, err := o.dev.Play(ctx, clip)
	if err != nil {
		return nil, err
	}
	return pb, nil
}

// SpeechConfig configures a SpeechCoordinator.
type SpeechConfig struct {
	// Synthesizer produces utterances. Required.
	Synthesizer tts.TTS

	// Device plays them. Required. Wrap a *audio.Device with DeviceOutput.
	Device OutputDevice

	// Renderer lip-syncs the utterance. Optional; nil plays audio only.
	// The renderer's own sound must stay muted, the device owns playback.
	Renderer avatar.Renderer

	// Listener is told when output starts and ends. Optional.
	Listener OutputListener

	// Profile supplies the fallback buffer and post-playback delay.
	Profile platform.Profile

	// Voice and Language are forwarded to the synthesizer.
	Voice    string
	Language string

	Logger *slog.Logger
}

// SpeechCoordinator runs speak cycles: synthesize, play through the shared
// output device, lip-sync on the renderer, and bracket the whole thing with
// output notifications so capture never hears the avatar.
//
// Completion of a cycle is whichever comes first: the playback finishing,
// the renderer reporting its animation done, or a fallback timer at the
// waveform duration plus a platform margin. The first source wins and the
// rest are stopped; renderers and audio stacks both have paths where their
// completion event never fires, and a stuck cycle would mute the microphone
// forever.
type SpeechCoordinator struct {
	synth    tts.TTS
	device   OutputDevice
	renderer avatar.Renderer
	listener OutputListener
	profile  platform.Profile
	voice    string
	language string
	logger   *slog.Logger

	// speakMu serializes cycles so notifications from consecutive Speak
	// calls cannot interleave.
	speakMu sync.Mutex

	mu           sync.Mutex
	cycle        *speakCycle
	synthesizing bool
	playing      bool
	startedAt    time.Time
	endedAt      time.Time
}

// OutputState is a snapshot of the coordinator, for inspection and tests.
type OutputState struct {
	Synthesizing bool
	Playing      bool
	StartedAt    time.Time
	EndedAt      time.Time
}

type speakCycle struct {
	cancel   context.CancelFunc
	complete chan struct{}
	once     sync.Once
	playback Playback // set under SpeechCoordinator.mu
}

// fire marks the cycle complete. First caller wins, the rest are no-ops.
func (c *speakCycle) fire() {
	c.once.Do(func() { close(c.complete) })
}

func (c *speakCycle) fired() bool {
	select {
	case <-c.complete:
		return true
	default:
		return false
	}
}

// NewSpeechCoordinator creates a speech coordinator.
func NewSpeechCoordinator(cfg SpeechConfig) (*SpeechCoordinator, error) {
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if cfg.Device == nil {
		return nil, fmt.Errorf("output device is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &SpeechCoordinator{
		synth:    cfg.Synthesizer,
		device:   cfg.Device,
		renderer: cfg.Renderer,
		listener: cfg.Listener,
		profile:  cfg.Profile,
		voice:    cfg.Voice,
		language: cfg.Language,
		logger:   cfg.Logger.With(slog.String("component", "speech")),
	}, nil
}

// Speak synthesizes text, plays it, and blocks until the cycle is over and
// the end notification has been delivered. Empty or whitespace-only text is
// a no-op with no notifications. A cycle cut short by Stop returns nil; any
// other failure returns its error, after the end notification.
func (s *SpeechCoordinator) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.speakMu.Lock()
	defer s.speakMu.Unlock()

	cycleCtx, cancel := context.WithCancel(ctx)
	cyc := &speakCycle{cancel: cancel, complete: make(chan struct{})}

	s.mu.Lock()
	s.cycle = cyc
	s.synthesizing = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	// Mute capture before any audio exists anywhere in the pipeline.
	if s.listener != nil {
		s.listener.NotifyOutputStarted()
	}

	played := false
	rendering := false
	defer func() {
		cancel()
		s.mu.Lock()
		pb := cyc.playback
		s.mu.Unlock()
		if pb != nil {
			pb.Stop()
		}
		if rendering {
			s.renderer.StopSpeaking()
		}
		if played {
			sleep(ctx, s.profile.PostPlaybackDelay)
		}
		s.mu.Lock()
		s.cycle = nil
		s.synthesizing = false
		s.playing = false
		s.endedAt = time.Now()
		s.mu.Unlock()
		if s.listener != nil {
			s.listener.NotifyOutputEnded()
		}
	}()

	u, err := s.synth.Synthesize(cycleCtx, tts.SynthesizeRequest{
		Text:     text,
		Voice:    s.voice,
		Language: s.language,
	})
	if err != nil {
		if cyc.fired() {
			return nil
		}
		return fmt.Errorf("speak: synthesize: %w", err)
	}
	if cyc.fired() {
		return nil
	}
	if u.Audio.Empty() {
		return nil
	}

	if err := s.device.Acquire(cycleCtx); err != nil {
		if cyc.fired() {
			return nil
		}
		return fmt.Errorf("speak: audio output: %w", err)
	}

	pb, err := s.device.Play(cycleCtx, u.Audio)
	if err != nil {
		if cyc.fired() {
			return nil
		}
		return fmt.Errorf("speak: playback: %w", err)
	}

	s.mu.Lock()
	cyc.playback = pb
	s.synthesizing = false
	s.playing = true
	s.mu.Unlock()
	played = true

	// A Stop between Play returning and the handle being registered has
	// cancelled the cycle without seeing the playback; the deferred cleanup
	// stops it now that it is registered.
	if cyc.fired() {
		return nil
	}

	if s.renderer != nil {
		timeline := avatar.TimelineFromWords(u.Words)
		if err := s.renderer.SpeakAudio(cycleCtx, u, timeline, cyc.fire); err != nil {
			s.logger.Warn("renderer rejected utterance, continuing audio-only",
				slog.String("error", err.Error()))
		} else {
			rendering = true
		}
	}

	fallback := pb.Duration() + s.profile.SpeakFallbackBuffer
	timer := time.NewTimer(fallback)
	defer timer.Stop()

	select {
	case <-pb.Done():
		cyc.fire()
	case <-cyc.complete:
		// Renderer finished first, or Stop.
	case <-timer.C:
		s.logger.Warn("no completion event, fallback timer fired",
			slog.Duration("clip", pb.Duration()),
			slog.Duration("waited", fallback))
		cyc.fire()
	case <-cycleCtx.Done():
		cyc.fire()
	}
	return nil
}

// Stop cuts the in-flight cycle immediately: playback and lip-sync halt and
// the end-notification sequence runs on the Speak goroutine, which returns
// nil. Safe to call at any time, including when nothing is speaking.
func (s *SpeechCoordinator) Stop() {
	s.mu.Lock()
	cyc := s.cycle
	var pb Playback
	if cyc != nil {
		pb = cyc.playback
	}
	s.mu.Unlock()
	if cyc == nil {
		return
	}

	// Fire before cancel so a Speak woken by the dead context already sees
	// the cycle as deliberately completed, not failed.
	cyc.fire()
	cyc.cancel()
	if pb != nil {
		pb.Stop()
	}
	if s.renderer != nil {
		s.renderer.StopSpeaking()
	}
}

// Speaking reports whether a speak cycle is in flight.
func (s *SpeechCoordinator) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle != nil
}

// Output returns a snapshot of the coordinator.
func (s *SpeechCoordinator) Output() OutputState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return OutputState{
		Synthesizing: s.synthesizing,
		Playing:      s.playing,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

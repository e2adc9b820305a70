// Package audio owns the process-wide audio output device and the microphone
// input stream. The speaker underneath can only be initialized once per
// process and may be suspended out from under us by the host, so all access
// goes through a single Device whose lifecycle mirrors that constraint:
// construct one Device at startup and share it.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/chriscow/avatar-agents-go/pkg/ai"
	"github.com/chriscow/avatar-agents-go/pkg/platform"
)

// State is the lifecycle state of the output device.
type State int32

const (
	StateUninitialized State = iota
	StateSuspended
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrUnavailable means the device never reached the running state
	// within the retry budget. User-actionable, never swallowed.
	ErrUnavailable = errors.New("audio output unavailable: interact with the app and try again")

	// ErrActivationRequired means the device was asked to start before any
	// user interaction was recorded. Hosts refuse to open output devices
	// for processes the user has not engaged with.
	ErrActivationRequired = errors.New("audio output requires user interaction first")

	// ErrClosed means the device has been shut down for good.
	ErrClosed = errors.New("audio output closed")
)

// engine is the seam between the Device and the speaker package, so tests
// run without a sound card.
type engine interface {
	Init(rate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Suspend() error
	Resume() error
	Clear()
	Close()
	Lock()
	Unlock()
}

type speakerEngine struct{}

func (speakerEngine) Init(rate beep.SampleRate, bufferSize int) error {
	return speaker.Init(rate, bufferSize)
}
func (speakerEngine) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerEngine) Suspend() error       { return speaker.Suspend() }
func (speakerEngine) Resume() error        { return speaker.Resume() }
func (speakerEngine) Clear()               { speaker.Clear() }
func (speakerEngine) Close()               { speaker.Close() }
func (speakerEngine) Lock()                { speaker.Lock() }
func (speakerEngine) Unlock()              { speaker.Unlock() }

// Device is the shared audio output handle. Construct one per process with
// NewDevice and pass it by reference; the speaker it wraps is global and a
// second Device would fight the first over it.
type Device struct {
	profile platform.Profile
	eng     engine
	logger  *slog.Logger
	wake    <-chan struct{}

	mu        sync.Mutex
	state     atomic.Int32
	activated atomic.Bool
	watchOnce sync.Once
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithLogger sets the device logger.
func WithLogger(logger *slog.Logger) DeviceOption {
	return func(d *Device) { d.logger = logger }
}

// WithWake supplies the channel that signals the host woke us after a
// suspension (for example SIGCONT after job control). Each receive repairs
// a suspended device. Nil disables the watcher.
func WithWake(ch <-chan struct{}) DeviceOption {
	return func(d *Device) { d.wake = ch }
}

func withEngine(eng engine) DeviceOption {
	return func(d *Device) { d.eng = eng }
}

// NewDevice creates the shared output device. The device stays
// uninitialized until user interaction is recorded and Acquire is called.
func NewDevice(profile platform.Profile, opts ...DeviceOption) *Device {
	d := &Device{
		profile: profile,
		eng:     speakerEngine{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	return State(d.state.Load())
}

func (d *Device) setState(s State) {
	old := State(d.state.Swap(int32(s)))
	if old != s {
		d.logger.Debug("audio device state",
			slog.String("from", old.String()),
			slog.String("to", s.String()))
	}
}

// MarkActivation records a user interaction. The first call unlocks device
// creation; every call repairs a suspension that happened while we were in
// the background, so wiring it to each user input keeps the device healthy.
func (d *Device) MarkActivation() {
	if !d.activated.Swap(true) {
		d.logger.Debug("user activation recorded")
	}
	if d.State() == StateSuspended {
		go func() {
			if err := d.Acquire(context.Background()); err != nil {
				d.logger.Warn("activation repair failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// Acquire brings the device to the running state: creates it on first use
// (after activation), resumes it if suspended, and is a no-op when already
// running. Safe to call from any goroutine and from any call site; state is
// checked before action. Returns ErrUnavailable once the resume retry
// budget is spent.
func (d *Device) Acquire(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.State() {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		return nil
	case StateUninitialized:
		if !d.activated.Load() {
			return ErrActivationRequired
		}
		rate := beep.SampleRate(d.profile.SampleRate)
		if err := d.eng.Init(rate, rate.N(100*time.Millisecond)); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		d.stabilize(ctx)
		d.setState(StateRunning)
		d.watchWakeOnce()
		d.logger.Info("audio device started", slog.Int("sample_rate", d.profile.SampleRate))
		return nil
	case StateSuspended:
		err := d.resumeLocked(ctx)
		d.watchWakeOnce()
		return err
	}
	return nil
}

// resumeLocked retries suspended -> running with exponential backoff and a
// stabilization delay after success. Caller holds d.mu.
func (d *Device) resumeLocked(ctx context.Context) error {
	retry := ai.RetryConfig{
		MaxRetries:    d.profile.ResumeMaxRetries,
		InitialDelay:  d.profile.ResumeInitialDelay,
		MaxDelay:      d.profile.ResumeMaxDelay,
		BackoffFactor: 2.0,
	}

	var lastErr error
	for attempt := 0; attempt < retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = d.eng.Resume()
		if lastErr == nil {
			d.stabilize(ctx)
			d.setState(StateRunning)
			d.logger.Info("audio device resumed", slog.Int("attempt", attempt+1))
			return nil
		}
		delay := retry.Delay(attempt)
		d.logger.Debug("audio resume failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.String("error", lastErr.Error()))
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
	d.logger.Error("audio device unavailable",
		slog.Int("attempts", retry.MaxRetries),
		slog.String("error", lastErr.Error()))
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (d *Device) stabilize(ctx context.Context) {
	sleepCtx(ctx, d.profile.StabilizeDelay)
}

// watchWakeOnce starts the wake watcher the first time the device comes up,
// mirroring the one-time registration of visibility listeners.
func (d *Device) watchWakeOnce() {
	if d.wake == nil {
		return
	}
	d.watchOnce.Do(func() {
		go func() {
			for range d.wake {
				if d.State() != StateSuspended {
					continue
				}
				d.logger.Debug("wake signal, repairing suspended device")
				if err := d.Acquire(context.Background()); err != nil {
					d.logger.Warn("wake repair failed", slog.String("error", err.Error()))
				}
			}
		}()
	})
}

// Suspend parks a running device, releasing the host audio stream.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() != StateRunning {
		return nil
	}
	if err := d.eng.Suspend(); err != nil {
		return fmt.Errorf("suspend audio device: %w", err)
	}
	d.setState(StateSuspended)
	return nil
}

// Close shuts the device down for the remainder of the process.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() == StateClosed {
		return
	}
	if d.State() != StateUninitialized {
		d.eng.Clear()
		d.eng.Close()
	}
	d.setState(StateClosed)
}

// Play starts a clip and returns a handle for completion and cancellation.
// The device is acquired first, so a suspended device is repaired (or the
// error surfaces) before any audio is queued. Clips at a different sample
// rate are resampled to the device rate.
func (d *Device) Play(ctx context.Context, clip PCM) (*Playback, error) {
	if clip.Empty() {
		return nil, errors.New("audio: empty clip")
	}
	if err := d.Acquire(ctx); err != nil {
		return nil, err
	}

	var streamer beep.Streamer = clip.Streamer()
	if clip.SampleRate != d.profile.SampleRate {
		streamer = beep.Resample(4,
			beep.SampleRate(clip.SampleRate),
			beep.SampleRate(d.profile.SampleRate),
			streamer)
	}

	pb := &Playback{
		eng:      d.eng,
		done:     make(chan struct{}),
		duration: clip.Duration(),
	}
	pb.ctrl = &beep.Ctrl{Streamer: beep.Seq(streamer, beep.Callback(pb.finish))}
	d.eng.Play(pb.ctrl)
	d.logger.Debug("playback started", slog.Duration("duration", pb.duration))
	return pb, nil
}

// Playback is a handle to one playing clip. Done fires exactly once,
// whether the clip finished naturally or Stop cut it short.
type Playback struct {
	eng      engine
	ctrl     *beep.Ctrl
	duration time.Duration

	once sync.Once
	done chan struct{}
}

// Done is closed when the clip has finished or been stopped.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Duration is the natural length of the clip.
func (p *Playback) Duration() time.Duration { return p.duration }

func (p *Playback) finish() {
	p.once.Do(func() { close(p.done) })
}

// Stop cuts playback immediately. Idempotent, and safe after natural
// completion.
func (p *Playback) Stop() {
	p.eng.Lock()
	p.ctrl.Streamer = nil
	p.eng.Unlock()
	p.finish()
}

// sleepCtx sleeps for delay unless ctx ends first. Returns false when the
// context won.
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

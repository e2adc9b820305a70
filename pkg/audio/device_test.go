package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/chriscow/avatar-agents-go/pkg/platform"
)

func testProfile() platform.Profile {
	return platform.Profile{
		Name:               "test",
		SampleRate:         24000,
		ResumeMaxRetries:   3,
		ResumeInitialDelay: time.Millisecond,
		ResumeMaxDelay:     4 * time.Millisecond,
		StabilizeDelay:     0,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine stands in for the speaker so device tests run without a sound
// card. Resume failures are scripted per call.
type fakeEngine struct {
	mu           sync.Mutex
	initCalls    int
	initErr      error
	resumeCalls  int
	resumeErrs   []error
	suspendCalls int
	played       []beep.Streamer
	cleared      bool
	closed       bool
}

func (f *fakeEngine) Init(rate beep.SampleRate, bufferSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeEngine) Play(s beep.Streamer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, s)
}

func (f *fakeEngine) Suspend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspendCalls++
	return nil
}

func (f *fakeEngine) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.resumeCalls
	f.resumeCalls++
	if call < len(f.resumeErrs) {
		return f.resumeErrs[call]
	}
	return nil
}

func (f *fakeEngine) Clear() { f.mu.Lock(); f.cleared = true; f.mu.Unlock() }
func (f *fakeEngine) Close() { f.mu.Lock(); f.closed = true; f.mu.Unlock() }
func (f *fakeEngine) Lock()  {}
func (f *fakeEngine) Unlock() {}

func (f *fakeEngine) counts() (init, resume int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.resumeCalls
}

func (f *fakeEngine) lastPlayed(t *testing.T) beep.Streamer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.played) == 0 {
		t.Fatal("nothing was played")
	}
	return f.played[len(f.played)-1]
}

// drain pulls samples until the streamer reports exhaustion, which fires
// any completion callback inline.
func drain(s beep.Streamer) {
	buf := make([][2]float64, 256)
	for {
		if _, ok := s.Stream(buf); !ok {
			return
		}
	}
}

func newTestDevice(eng *fakeEngine, opts ...DeviceOption) *Device {
	base := []DeviceOption{withEngine(eng), WithLogger(discardLogger())}
	return NewDevice(testProfile(), append(base, opts...)...)
}

func testClip(t *testing.T, ms int) PCM {
	t.Helper()
	rate := 24000
	samples := rate * ms / 1000
	clip, err := NewPCM(make([]byte, samples*2), rate, 1)
	if err != nil {
		t.Fatal(err)
	}
	return clip
}

func TestAcquireRequiresActivation(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)

	err := d.Acquire(context.Background())
	if !errors.Is(err, ErrActivationRequired) {
		t.Fatalf("Acquire before activation = %v, want ErrActivationRequired", err)
	}
	if init, _ := eng.counts(); init != 0 {
		t.Errorf("engine initialized %d times before activation", init)
	}
}

func TestAcquireInitsExactlyOnce(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()

	for i := 0; i < 3; i++ {
		if err := d.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire #%d: %v", i+1, err)
		}
	}
	if init, _ := eng.counts(); init != 1 {
		t.Errorf("engine initialized %d times, want 1", init)
	}
	if d.State() != StateRunning {
		t.Errorf("state = %v, want running", d.State())
	}
}

func TestAcquireInitFailure(t *testing.T) {
	eng := &fakeEngine{initErr: errors.New("no output device")}
	d := newTestDevice(eng)
	d.MarkActivation()

	err := d.Acquire(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Acquire = %v, want ErrUnavailable", err)
	}
}

func TestResumeRetriesThenSucceeds(t *testing.T) {
	eng := &fakeEngine{resumeErrs: []error{errors.New("busy"), errors.New("busy")}}
	d := newTestDevice(eng)
	d.MarkActivation()
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Suspend(); err != nil {
		t.Fatal(err)
	}

	if err := d.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after suspend: %v", err)
	}
	if _, resume := eng.counts(); resume != 3 {
		t.Errorf("resume called %d times, want 3", resume)
	}
	if d.State() != StateRunning {
		t.Errorf("state = %v, want running", d.State())
	}
}

func TestResumeExhaustionIsUnavailable(t *testing.T) {
	busy := errors.New("busy")
	eng := &fakeEngine{resumeErrs: []error{busy, busy, busy}}
	d := newTestDevice(eng)
	d.MarkActivation()
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Suspend(); err != nil {
		t.Fatal(err)
	}

	err := d.Acquire(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Acquire = %v, want ErrUnavailable", err)
	}
	if d.State() != StateSuspended {
		t.Errorf("state = %v, want suspended after exhaustion", d.State())
	}
	if _, resume := eng.counts(); resume != 3 {
		t.Errorf("resume called %d times, want full budget of 3", resume)
	}
}

func TestResumeHonorsContext(t *testing.T) {
	busy := errors.New("busy")
	eng := &fakeEngine{resumeErrs: []error{busy, busy, busy}}
	profile := testProfile()
	profile.ResumeInitialDelay = time.Hour // backoff would stall forever
	d := NewDevice(profile, withEngine(eng), WithLogger(discardLogger()))
	d.MarkActivation()
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Suspend(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire = %v, want deadline exceeded", err)
	}
}

func TestWakeRepairsSuspendedDevice(t *testing.T) {
	eng := &fakeEngine{}
	wake := make(chan struct{})
	d := newTestDevice(eng, WithWake(wake))
	d.MarkActivation()
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Suspend(); err != nil {
		t.Fatal(err)
	}

	wake <- struct{}{}

	deadline := time.After(time.Second)
	for d.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatalf("device not repaired, state = %v", d.State())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCloseIsTerminal(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	d.Close()
	d.Close() // idempotent

	if !eng.closed || !eng.cleared {
		t.Error("engine not cleared and closed")
	}
	if err := d.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after close = %v, want ErrClosed", err)
	}
}

func TestPlayCompletionClosesDone(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()

	pb, err := d.Play(context.Background(), testClip(t, 50))
	if err != nil {
		t.Fatal(err)
	}

	drain(eng.lastPlayed(t))

	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not close after natural completion")
	}
}

func TestPlayStopClosesDoneOnce(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()

	pb, err := d.Play(context.Background(), testClip(t, 50))
	if err != nil {
		t.Fatal(err)
	}

	pb.Stop()
	pb.Stop() // idempotent

	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not close after Stop")
	}

	// A stopped control streams nothing more and must not re-fire the
	// completion callback.
	drain(eng.lastPlayed(t))
}

func TestPlayEmptyClip(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()

	if _, err := d.Play(context.Background(), PCM{SampleRate: 24000, NumChannels: 1}); err == nil {
		t.Fatal("Play accepted an empty clip")
	}
}

func TestPlayResamplesForeignRates(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()

	clip, err := NewPCM(make([]byte, 16000*2/10), 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := d.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play with 16k clip on 24k device: %v", err)
	}
	drain(eng.lastPlayed(t))
	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("resampled clip never completed")
	}
}

func TestMarkActivationRepairsSuspension(t *testing.T) {
	eng := &fakeEngine{}
	d := newTestDevice(eng)
	d.MarkActivation()
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Suspend(); err != nil {
		t.Fatal(err)
	}

	d.MarkActivation()

	deadline := time.After(time.Second)
	for d.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatalf("interaction did not repair device, state = %v", d.State())
		case <-time.After(time.Millisecond):
		}
	}
}

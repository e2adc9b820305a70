package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	ttsfake "github.com/chriscow/avatar-agents-go/pkg/ai/tts/fake"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
	avatarfake "github.com/chriscow/avatar-agents-go/pkg/avatar/fake"
)

var (
	_ OutputDevice   = deviceOutput{}
	_ OutputListener = (*CaptureController)(nil)
)

// recordingListener counts output notifications and records their order.
type recordingListener struct {
	mu      sync.Mutex
	events  []string
	started int
	ended   int
}

func (l *recordingListener) NotifyOutputStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
	l.events = append(l.events, "started")
}

func (l *recordingListener) NotifyOutputEnded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended++
	l.events = append(l.events, "ended")
}

func (l *recordingListener) counts() (started, ended int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started, l.ended
}

func (l *recordingListener) sequence() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

// fakePlayback is a playback handle the test finishes by hand.
type fakePlayback struct {
	duration time.Duration
	done     chan struct{}
	once     sync.Once
	stopped  atomic.Bool
}

func (p *fakePlayback) Done() <-chan struct{}   { return p.done }
func (p *fakePlayback) Duration() time.Duration { return p.duration }

func (p *fakePlayback) Stop() {
	p.stopped.Store(true)
	p.finish()
}

func (p *fakePlayback) finish() {
	p.once.Do(func() { close(p.done) })
}

// fakeOutput hands out fakePlaybacks and fails on demand.
type fakeOutput struct {
	mu         sync.Mutex
	acquireErr error
	playErr    error
	autoFinish bool
	playbacks  []*fakePlayback
}

func (d *fakeOutput) Acquire(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquireErr
}

func (d *fakeOutput) Play(ctx context.Context, clip audio.PCM) (Playback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return nil, d.playErr
	}
	pb := &fakePlayback{duration: clip.Duration(), done: make(chan struct{})}
	if d.autoFinish {
		pb.finish()
	}
	d.playbacks = append(d.playbacks, pb)
	return pb, nil
}

func (d *fakeOutput) last() *fakePlayback {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.playbacks) == 0 {
		return nil
	}
	return d.playbacks[len(d.playbacks)-1]
}

func (d *fakeOutput) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.playbacks)
}

type speechFixture struct {
	coord    *SpeechCoordinator
	synth    *ttsfake.FakeTTS
	output   *fakeOutput
	renderer *avatarfake.FakeRenderer
	listener *recordingListener
}

func newSpeechFixture(t *testing.T, mutate func(*SpeechConfig)) *speechFixture {
	t.Helper()

	synth := ttsfake.NewFakeTTS()
	synth.WordDuration = 30 * time.Millisecond
	output := &fakeOutput{}
	renderer := avatarfake.NewFakeRenderer()
	listener := &recordingListener{}

	p := testProfile()
	p.SpeakFallbackBuffer = 40 * time.Millisecond
	p.PostPlaybackDelay = 5 * time.Millisecond

	cfg := SpeechConfig{
		Synthesizer: synth,
		Device:      output,
		Renderer:    renderer,
		Listener:    listener,
		Profile:     p,
		Voice:       "en-US-AvaNeural",
		Language:    "en-US",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	coord, err := NewSpeechCoordinator(cfg)
	if err != nil {
		t.Fatalf("NewSpeechCoordinator failed: %v", err)
	}
	return &speechFixture{coord: coord, synth: synth, output: output, renderer: renderer, listener: listener}
}

func awaitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return")
		return nil
	}
}

func TestSpeakHappyPath(t *testing.T) {
	fx := newSpeechFixture(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- fx.coord.Speak(context.Background(), "hello there") }()

	waitFor(t, "playback to start", func() bool { return fx.output.last() != nil })
	if s, e := fx.listener.counts(); s != 1 || e != 0 {
		t.Fatalf("mid-cycle notifications = %d started, %d ended, want 1, 0", s, e)
	}
	waitFor(t, "renderer to start", func() bool { return len(fx.renderer.Speaks()) == 1 })

	fx.output.last().finish()
	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
	seq := fx.listener.sequence()
	if len(seq) != 2 || seq[0] != "started" || seq[1] != "ended" {
		t.Errorf("notification order = %v, want [started ended]", seq)
	}
	if fx.coord.Speaking() {
		t.Error("Speaking() = true after cycle finished")
	}
	st := fx.coord.Output()
	if st.Playing || st.Synthesizing {
		t.Errorf("state after cycle = %+v, want idle", st)
	}
	if !st.EndedAt.After(st.StartedAt) {
		t.Errorf("EndedAt %v not after StartedAt %v", st.EndedAt, st.StartedAt)
	}

	if got, want := fx.output.last().Duration(), 60*time.Millisecond; got != want {
		t.Errorf("clip duration = %v, want %v", got, want)
	}
	speaks := fx.renderer.Speaks()
	if speaks[0].Timeline == nil || len(speaks[0].Timeline.Events) == 0 {
		t.Error("renderer received no viseme timeline")
	}
}

func TestSpeakMutesBeforeSynthesis(t *testing.T) {
	var probe *orderProbe
	fx := newSpeechFixture(t, func(cfg *SpeechConfig) {
		probe = &orderProbe{inner: cfg.Synthesizer, listener: cfg.Listener.(*recordingListener)}
		cfg.Synthesizer = probe
	})
	fx.output.autoFinish = true

	if err := fx.coord.Speak(context.Background(), "check the order"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if got := probe.startedAtSynth.Load(); got != 1 {
		t.Errorf("started notifications at synthesis time = %d, want 1", got)
	}
}

type orderProbe struct {
	inner          tts.TTS
	listener       *recordingListener
	startedAtSynth atomic.Int32
}

func (o *orderProbe) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Utterance, error) {
	s, _ := o.listener.counts()
	o.startedAtSynth.Store(int32(s))
	return o.inner.Synthesize(ctx, req)
}

func (o *orderProbe) Capabilities() tts.TTSCapabilities { return o.inner.Capabilities() }

func TestSpeakEmptyTextIsNoOp(t *testing.T) {
	fx := newSpeechFixture(t, nil)

	if err := fx.coord.Speak(context.Background(), "   \n\t"); err != nil {
		t.Fatalf("Speak of blank text failed: %v", err)
	}
	if s, e := fx.listener.counts(); s != 0 || e != 0 {
		t.Errorf("blank text produced notifications: %d started, %d ended", s, e)
	}
	if calls := fx.synth.Calls(); len(calls) != 0 {
		t.Errorf("blank text reached the synthesizer: %v", calls)
	}
}

func TestSynthesisFailureStillNotifiesEnd(t *testing.T) {
	fx := newSpeechFixture(t, nil)
	fx.synth.Err = fmt.Errorf("%w: deadline exceeded", tts.ErrSynthesis)

	err := fx.coord.Speak(context.Background(), "doomed")
	if !errors.Is(err, tts.ErrSynthesis) {
		t.Fatalf("Speak error = %v, want tts.ErrSynthesis", err)
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
	if fx.output.count() != 0 {
		t.Error("playback started despite synthesis failure")
	}
	if len(fx.renderer.Speaks()) != 0 {
		t.Error("renderer invoked despite synthesis failure")
	}
}

func TestAcquireFailureStillNotifiesEnd(t *testing.T) {
	fx := newSpeechFixture(t, nil)
	fx.output.acquireErr = fmt.Errorf("resume budget spent: %w", audio.ErrUnavailable)

	err := fx.coord.Speak(context.Background(), "no device")
	if !errors.Is(err, audio.ErrUnavailable) {
		t.Fatalf("Speak error = %v, want audio.ErrUnavailable", err)
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
	if fx.output.count() != 0 {
		t.Error("playback started despite acquire failure")
	}
}

func TestPlayFailureStillNotifiesEnd(t *testing.T) {
	fx := newSpeechFixture(t, nil)
	fx.output.playErr = errors.New("stream wedged")

	err := fx.coord.Speak(context.Background(), "no playback")
	if err == nil {
		t.Fatal("Speak succeeded despite play failure")
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
}

func TestRendererFailureContinuesAudioOnly(t *testing.T) {
	fx := newSpeechFixture(t, nil)
	fx.renderer.FailWith(errors.New("webgl context lost"))
	fx.output.autoFinish = true

	if err := fx.coord.Speak(context.Background(), "audio only"); err != nil {
		t.Fatalf("Speak failed on renderer error: %v", err)
	}
	if fx.output.count() != 1 {
		t.Errorf("playbacks = %d, want 1", fx.output.count())
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
}

// Neither the playback nor the renderer ever reports completion; the fallback
// timer must end the cycle at the waveform duration plus the platform margin,
// and cleanup must stop the stuck playback.
func TestFallbackTimerCompletesStuckCycle(t *testing.T) {
	fx := newSpeechFixture(t, nil)

	start := time.Now()
	if err := fx.coord.Speak(context.Background(), "two words"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	elapsed := time.Since(start)

	clip := fx.output.last()
	if clip == nil {
		t.Fatal("no playback started")
	}
	floor := clip.Duration() + 40*time.Millisecond
	if elapsed < floor {
		t.Errorf("cycle ended after %v, want at least %v", elapsed, floor)
	}
	if elapsed > floor+500*time.Millisecond {
		t.Errorf("cycle took %v, fallback timer did not fire near %v", elapsed, floor)
	}
	if !clip.stopped.Load() {
		t.Error("stuck playback was not stopped")
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}

	// A late renderer completion must not produce a second end.
	fx.renderer.CompleteSpeech()
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("late completion changed notifications to %d started, %d ended", s, e)
	}
}

func TestRendererCompletionEndsCycle(t *testing.T) {
	fx := newSpeechFixture(t, func(cfg *SpeechConfig) {
		cfg.Profile.SpeakFallbackBuffer = 5 * time.Second
	})

	errCh := make(chan error, 1)
	go func() { errCh <- fx.coord.Speak(context.Background(), "renderer finishes first") }()

	waitFor(t, "renderer to start", func() bool { return fx.renderer.Speaking() })
	fx.renderer.CompleteSpeech()

	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if !fx.output.last().stopped.Load() {
		t.Error("playback kept running after renderer completion")
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
}

func TestStopCutsPlaybackImmediately(t *testing.T) {
	fx := newSpeechFixture(t, func(cfg *SpeechConfig) {
		cfg.Profile.SpeakFallbackBuffer = 5 * time.Second
	})
	fx.synth.WordDuration = 200 * time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- fx.coord.Speak(context.Background(), "a very long utterance") }()

	waitFor(t, "playback to start", func() bool { return fx.coord.Output().Playing })
	fx.coord.Stop()

	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("stopped Speak returned error: %v", err)
	}
	if !fx.output.last().stopped.Load() {
		t.Error("playback not stopped")
	}
	if fx.renderer.StopCount() == 0 {
		t.Error("renderer not told to stop")
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}

	fx.coord.Stop()
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("second Stop changed notifications to %d started, %d ended", s, e)
	}
}

type gatedTTS struct {
	inner   tts.TTS
	entered chan struct{}
}

func (g *gatedTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Utterance, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (g *gatedTTS) Capabilities() tts.TTSCapabilities { return g.inner.Capabilities() }

func TestStopDuringSynthesisNotifiesEnd(t *testing.T) {
	gate := &gatedTTS{entered: make(chan struct{}, 1)}
	fx := newSpeechFixture(t, func(cfg *SpeechConfig) {
		gate.inner = cfg.Synthesizer
		cfg.Synthesizer = gate
	})

	errCh := make(chan error, 1)
	go func() { errCh <- fx.coord.Speak(context.Background(), "never synthesized") }()

	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis never started")
	}
	fx.coord.Stop()

	if err := awaitErr(t, errCh); err != nil {
		t.Fatalf("stopped Speak returned error: %v", err)
	}
	if s, e := fx.listener.counts(); s != 1 || e != 1 {
		t.Errorf("notifications = %d started, %d ended, want 1, 1", s, e)
	}
	if fx.output.count() != 0 {
		t.Error("playback started for a cancelled synthesis")
	}
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	fx := newSpeechFixture(t, nil)

	fx.coord.Stop()
	fx.coord.Stop()

	if s, e := fx.listener.counts(); s != 0 || e != 0 {
		t.Errorf("idle Stop produced notifications: %d started, %d ended", s, e)
	}
	if fx.renderer.StopCount() != 0 {
		t.Errorf("idle Stop reached the renderer %d times", fx.renderer.StopCount())
	}
}

func TestSequentialCyclesNotifyEachOnce(t *testing.T) {
	fx := newSpeechFixture(t, nil)
	fx.output.autoFinish = true

	for _, text := range []string{"first utterance", "second utterance"} {
		if err := fx.coord.Speak(context.Background(), text); err != nil {
			t.Fatalf("Speak(%q) failed: %v", text, err)
		}
	}

	if s, e := fx.listener.counts(); s != 2 || e != 2 {
		t.Errorf("notifications = %d started, %d ended, want 2, 2", s, e)
	}
	want := []string{"started", "ended", "started", "ended"}
	seq := fx.listener.sequence()
	if len(seq) != len(want) {
		t.Fatalf("notification sequence = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("notification sequence = %v, want %v", seq, want)
		}
	}
	if fx.output.count() != 2 {
		t.Errorf("playbacks = %d, want 2", fx.output.count())
	}
}

func TestNewSpeechCoordinatorValidation(t *testing.T) {
	if _, err := NewSpeechCoordinator(SpeechConfig{Device: &fakeOutput{}}); err == nil {
		t.Error("missing synthesizer accepted")
	}
	if _, err := NewSpeechCoordinator(SpeechConfig{Synthesizer: ttsfake.NewFakeTTS()}); err == nil {
		t.Error("missing device accepted")
	}

	// Renderer and listener are optional; a bare coordinator still speaks.
	out := &fakeOutput{autoFinish: true}
	coord, err := NewSpeechCoordinator(SpeechConfig{
		Synthesizer: ttsfake.NewFakeTTS(),
		Device:      out,
		Profile:     testProfile(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
	if err := coord.Speak(context.Background(), "no renderer no listener"); err != nil {
		t.Fatalf("bare Speak failed: %v", err)
	}
	if out.count() != 1 {
		t.Errorf("playbacks = %d, want 1", out.count())
	}
}

// Package voice implements the turn-taking core: a capture controller that
// owns the single allowed recognition session, and a speech coordinator that
// drives synthesis, playback and lip-sync. The two are joined by the
// OutputListener notifications, which enforce the one invariant everything
// else hangs off: the microphone never captures while speech output is
// active.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chriscow/avatar-agents-go/pkg/ai/stt"
	"github.com/chriscow/avatar-agents-go/pkg/platform"
)

// CapturePhase is the capture controller's lifecycle phase. Suspension by
// active output or an explicit disable is an overlay on top of the phase,
// reported separately by State.
type CapturePhase int32

const (
	PhaseIdle CapturePhase = iota
	PhaseStarting
	PhaseCapturing
)

func (p CapturePhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseStarting:
		return "Starting"
	case PhaseCapturing:
		return "Capturing"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// CaptureState is a snapshot of the controller for callers that render or
// assert on it.
type CaptureState struct {
	Phase        CapturePhase
	Intent       bool
	OutputActive bool
	Disabled     bool
	RetryCount   int
	LastActivity time.Time
}

// CaptureConfig configures a CaptureController.
type CaptureConfig struct {
	// Recognizer provides recognition sessions. Required.
	Recognizer stt.STT

	// Profile supplies the grace window, retry budget, debounce and
	// transcript filter threshold.
	Profile platform.Profile

	// Session is passed to Recognizer.Start. Zero value means continuous
	// en-US recognition with interim results.
	Session stt.SessionConfig

	// OnTranscript receives finalized transcripts that pass the length
	// filter. Called from the session watcher goroutine.
	OnTranscript func(text string)

	// OnInterim receives partial transcripts, unfiltered. Optional.
	OnInterim func(text string)

	// OnError receives terminal capture errors: permission denials and
	// retry-budget exhaustion. Optional.
	OnError func(err error)

	Logger *slog.Logger
}

// CaptureController owns the one recognition session the system is allowed
// to have. User intent (RequestStart/RequestStop) and output activity
// (NotifyOutputStarted/NotifyOutputEnded) both feed it; capture runs only
// when intent is present and nothing suppresses it.
//
// Construct one per conversation and share it by reference; the controller
// is safe for concurrent use.
type CaptureController struct {
	recognizer   stt.STT
	profile      platform.Profile
	sessionCfg   stt.SessionConfig
	onTranscript func(string)
	onInterim    func(string)
	onError      func(error)
	logger       *slog.Logger

	mu              sync.Mutex
	phase           CapturePhase
	intent          bool
	outputActive    bool
	disabledUntil   time.Time
	resumeNotBefore time.Time
	retryCount      int
	lastActivity    time.Time
	session         stt.Session
	gen             uint64
	startCtx        context.Context
	graceTimer      *time.Timer
	retryTimer      *time.Timer
	disableTimer    *time.Timer
}

// NewCaptureController creates a capture controller.
func NewCaptureController(cfg CaptureConfig) (*CaptureController, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	session := cfg.Session
	if session == (stt.SessionConfig{}) {
		session = stt.SessionConfig{
			Language:       "en-US",
			InterimResults: true,
			Continuous:     true,
		}
	}

	return &CaptureController{
		recognizer:   cfg.Recognizer,
		profile:      cfg.Profile,
		sessionCfg:   session,
		onTranscript: cfg.OnTranscript,
		onInterim:    cfg.OnInterim,
		onError:      cfg.OnError,
		logger:       cfg.Logger.With(slog.String("component", "capture")),
		startCtx:     context.Background(),
	}, nil
}

// State returns a snapshot of the controller.
func (c *CaptureController) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CaptureState{
		Phase:        c.phase,
		Intent:       c.intent,
		OutputActive: c.outputActive,
		Disabled:     time.Now().Before(c.disabledUntil),
		RetryCount:   c.retryCount,
		LastActivity: c.lastActivity,
	}
}

// Phase returns the current capture phase.
func (c *CaptureController) Phase() CapturePhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// RequestStart records the user's intent to listen and starts capture if
// nothing suppresses it. While output is active, the controller is disabled,
// or a grace window is pending, the start is deferred and happens
// automatically once permitted. ctx governs this and all automatic restarts
// until RequestStop.
func (c *CaptureController) RequestStart(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intent = true
	c.retryCount = 0
	c.startCtx = ctx
	c.evaluateStartLocked()
	return nil
}

// RequestStop clears intent and terminates any in-flight session
// immediately. The session watcher is detached before the stop so a stale
// end event cannot trigger a restart.
func (c *CaptureController) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intent = false
	c.cancelTimersLocked()
	c.stopSessionLocked()
}

// NotifyOutputStarted suppresses capture for the duration of speech output.
// Idempotent. Any active or starting capture is force-stopped; a start
// attempt in flight is invalidated so it cannot slip through after this
// call returns.
func (c *CaptureController) NotifyOutputStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outputActive {
		return
	}
	c.outputActive = true
	c.cancelTimersLocked()
	if c.phase != PhaseIdle {
		c.logger.Debug("output started, force-stopping capture",
			slog.String("phase", c.phase.String()))
	}
	c.stopSessionLocked()
}

// NotifyOutputEnded lifts the output suppression. Idempotent. If intent is
// still present, capture restarts automatically after the profile's grace
// window; the window absorbs the audio tail so the recognizer never hears
// the end of the avatar's own speech.
func (c *CaptureController) NotifyOutputEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.outputActive {
		return
	}
	c.outputActive = false
	c.resumeNotBefore = time.Now().Add(c.profile.OutputGraceWindow)
	c.evaluateStartLocked()
}

// DisableFor suppresses capture for a bounded duration, force-stopping any
// current session. Intent is preserved; capture resumes afterwards if the
// user still wants to listen.
func (c *CaptureController) DisableFor(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disabledUntil = time.Now().Add(d)
	c.stopSessionLocked()
	c.armDisableLocked(d)
}

// evaluateStartLocked starts capture when permitted, or arms the timer that
// will re-evaluate once the current obstacle expires. Callers hold mu.
func (c *CaptureController) evaluateStartLocked() {
	if !c.intent || c.outputActive || c.phase != PhaseIdle {
		return
	}
	now := time.Now()
	if wait := c.resumeNotBefore.Sub(now); wait > 0 {
		c.armGraceLocked(wait)
		return
	}
	if wait := c.disabledUntil.Sub(now); wait > 0 {
		c.armDisableLocked(wait)
		return
	}
	c.beginStartLocked()
}

func (c *CaptureController) beginStartLocked() {
	c.phase = PhaseStarting
	c.gen++
	gen := c.gen
	ctx := c.startCtx
	c.logger.Debug("starting recognition session")
	go c.openSession(ctx, gen)
}

// openSession performs the blocking recognizer start outside the lock, then
// re-checks that the controller still wants this session. An output start or
// a stop that raced the open wins: the fresh session is discarded.
func (c *CaptureController) openSession(ctx context.Context, gen uint64) {
	sess, err := c.recognizer.Start(ctx, c.sessionCfg)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err == nil {
			sess.Stop()
		}
		return
	}
	if err != nil {
		surface := c.startFailedLocked(err)
		c.mu.Unlock()
		c.report(surface)
		return
	}
	if c.outputActive || !c.intent {
		c.gen++
		c.phase = PhaseIdle
		c.mu.Unlock()
		sess.Stop()
		return
	}
	c.session = sess
	c.phase = PhaseCapturing
	c.mu.Unlock()

	c.logger.Debug("capture active")
	go c.watchSession(sess, gen)
}

// startFailedLocked classifies a session open failure. Permission denials
// are terminal: intent is cleared and no retry happens. Anything else
// consumes retry budget.
func (c *CaptureController) startFailedLocked(err error) error {
	c.phase = PhaseIdle
	if stt.IsPermissionDenied(err) {
		c.intent = false
		c.logger.Warn("microphone permission denied", slog.String("error", err.Error()))
		return err
	}
	c.logger.Warn("recognition start failed", slog.String("error", err.Error()))
	return c.retryOrGiveUpLocked(err)
}

// watchSession consumes one session's events until the channel closes. A
// superseded watcher keeps draining so the provider can finish, but stops
// dispatching effects the moment its generation goes stale.
func (c *CaptureController) watchSession(sess stt.Session, gen uint64) {
	for ev := range sess.Events() {
		switch ev.Type {
		case stt.SpeechEventInterim:
			c.handleTranscript(gen, ev.Text, false)
		case stt.SpeechEventFinal:
			c.handleTranscript(gen, ev.Text, true)
		case stt.SpeechEventError:
			c.handleSessionError(sess, gen, ev.Err)
		case stt.SpeechEventEnd:
			// the channel closes right after; restart logic runs below
		}
	}
	c.handleSessionEnd(gen)
}

func (c *CaptureController) handleTranscript(gen uint64, text string, final bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.lastActivity = time.Now()
	c.retryCount = 0
	interim := c.onInterim
	transcript := c.onTranscript
	minRunes := c.profile.MinTranscriptRunes
	c.mu.Unlock()

	if !final {
		if interim != nil {
			interim(text)
		}
		return
	}

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minRunes {
		c.logger.Debug("discarding short transcript as echo",
			slog.String("text", trimmed),
			slog.Int("min_runes", minRunes))
		return
	}
	if transcript != nil {
		transcript(trimmed)
	}
}

func (c *CaptureController) handleSessionError(sess stt.Session, gen uint64, err error) {
	if err == nil {
		return
	}
	if !stt.IsPermissionDenied(err) {
		c.logger.Debug("transient recognition error", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.session = nil
	c.phase = PhaseIdle
	c.intent = false
	c.mu.Unlock()

	c.logger.Warn("microphone permission denied", slog.String("error", err.Error()))
	sess.Stop()
	c.report(err)
}

// handleSessionEnd runs when a session's event channel closes. A stale
// generation means the end was requested or superseded; a current one means
// the platform ended the session on its own, which is retried while intent
// holds, up to the profile's budget.
func (c *CaptureController) handleSessionEnd(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.phase = PhaseIdle

	var surface error
	if c.intent && !c.outputActive {
		c.logger.Debug("recognition session ended unexpectedly",
			slog.Int("retry_count", c.retryCount))
		surface = c.retryOrGiveUpLocked(nil)
	}
	c.mu.Unlock()
	c.report(surface)
}

// retryOrGiveUpLocked consumes one unit of retry budget. Within budget it
// arms the debounced restart; beyond it, intent is cleared and the give-up
// error is returned for surfacing.
func (c *CaptureController) retryOrGiveUpLocked(cause error) error {
	c.retryCount++
	if c.retryCount > c.profile.CaptureMaxRetries {
		c.intent = false
		if cause != nil {
			return fmt.Errorf("capture gave up after %d attempts: %v: %w",
				c.retryCount, cause, stt.ErrTransient)
		}
		return fmt.Errorf("capture gave up after %d session restarts: %w",
			c.retryCount, stt.ErrTransient)
	}
	c.armRetryLocked()
	return nil
}

func (c *CaptureController) report(err error) {
	if err == nil {
		return
	}
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *CaptureController) armGraceLocked(wait time.Duration) {
	if c.graceTimer != nil {
		return
	}
	c.graceTimer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		c.graceTimer = nil
		c.evaluateStartLocked()
		c.mu.Unlock()
	})
}

func (c *CaptureController) armRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(c.profile.CaptureRetryDebounce, func() {
		c.mu.Lock()
		c.retryTimer = nil
		c.evaluateStartLocked()
		c.mu.Unlock()
	})
}

func (c *CaptureController) armDisableLocked(wait time.Duration) {
	if c.disableTimer != nil {
		c.disableTimer.Stop()
	}
	c.disableTimer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		c.disableTimer = nil
		c.evaluateStartLocked()
		c.mu.Unlock()
	})
}

func (c *CaptureController) cancelTimersLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// stopSessionLocked detaches and stops the current session, if any, and
// invalidates any start attempt in flight. The generation bump is what
// detaches: watchers and openers carrying the old generation become no-ops.
func (c *CaptureController) stopSessionLocked() {
	c.gen++
	if c.session != nil {
		sess := c.session
		c.session = nil
		go sess.Stop()
	}
	c.phase = PhaseIdle
}

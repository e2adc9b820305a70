// Package agent drives conversation turns through a finite state machine:
// Idle while waiting for input, AwaitingLLM while the model composes a
// reply, Speaking while the reply plays. Exactly one turn is in flight at
// a time; everything the turn touches (model, speech coordinator, renderer
// mood, history mirror) is injected.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai/llm"
	"github.com/chriscow/avatar-agents-go/pkg/avatar"
)

// ErrBusy is returned by Submit when a turn is already in flight.
var ErrBusy = errors.New("agent: a turn is already in flight")

// DefaultHistoryLimit is how many completed turns stay in the LLM context
// when Config.HistoryLimit is zero.
const DefaultHistoryLimit = 16

// AgentState represents the current state of the turn driver.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateAwaitingLLM
	StateSpeaking
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingLLM:
		return "AwaitingLLM"
	case StateSpeaking:
		return "Speaking"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Turn is one completed user/assistant exchange.
type Turn struct {
	User      string
	Assistant string
	Mood      avatar.Mood
	At        time.Time
}

// Speaker is the slice of the speech coordinator the agent drives.
// *voice.SpeechCoordinator satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Config holds configuration for creating an Agent.
type Config struct {
	// LLM produces replies. Required.
	LLM llm.LLM

	// Speaker voices them. Required.
	Speaker Speaker

	// Renderer receives mood changes before each reply. Optional.
	Renderer avatar.Renderer

	// ClassifyMood maps reply text to a renderer mood. Optional; without
	// it every reply is delivered in MoodNeutral.
	ClassifyMood func(text string) avatar.Mood

	// RecordTurn mirrors each completed turn to a persistent store.
	// Optional; failures are logged, never fatal to the conversation.
	RecordTurn func(ctx context.Context, t Turn) error

	// SystemPrompt is prepended to every chat request.
	SystemPrompt string

	// HistoryLimit caps the completed turns kept in the LLM context.
	HistoryLimit int

	Temperature float32
	MaxTokens   int

	Logger *slog.Logger
}

// Metrics is the agent's expvar set. Instances are created unregistered so
// tests can build agents freely; Publish exposes the one production agent's
// set under the avatar_agent_* names.
type Metrics struct {
	Turns             *expvar.Int
	LLMFailures       *expvar.Int
	SpeakFailures     *expvar.Int
	FirstReplyLatency *expvar.Float
	StateTransitions  *expvar.Map

	publishOnce sync.Once
}

func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &Metrics{
		Turns:             &expvar.Int{},
		LLMFailures:       &expvar.Int{},
		SpeakFailures:     &expvar.Int{},
		FirstReplyLatency: &expvar.Float{},
		StateTransitions:  transitions,
	}
}

// Publish registers the metrics with the process-wide expvar registry.
// Call it on at most one agent per process.
func (m *Metrics) Publish() {
	m.publishOnce.Do(func() {
		expvar.Publish("avatar_agent_turns", m.Turns)
		expvar.Publish("avatar_agent_llm_failures", m.LLMFailures)
		expvar.Publish("avatar_agent_speak_failures", m.SpeakFailures)
		expvar.Publish("avatar_agent_first_reply_ms", m.FirstReplyLatency)
		expvar.Publish("avatar_agent_state_transitions", m.StateTransitions)
	})
}

// Agent is the conversation turn driver.
type Agent struct {
	llm      llm.LLM
	speaker  Speaker
	renderer avatar.Renderer
	classify func(string) avatar.Mood
	record   func(context.Context, Turn) error
	logger   *slog.Logger

	systemPrompt string
	historyLimit int
	temperature  float32
	maxTokens    int

	state atomic.Int32

	mu      sync.Mutex
	history []llm.Message
	turns   []Turn

	sessionStart   time.Time
	firstReplyOnce sync.Once
	metrics        *Metrics
}

// New creates a new Agent with the given configuration.
func New(cfg Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM is required")
	}
	if cfg.Speaker == nil {
		return nil, fmt.Errorf("speaker is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Agent{
		llm:          cfg.LLM,
		speaker:      cfg.Speaker,
		renderer:     cfg.Renderer,
		classify:     cfg.ClassifyMood,
		record:       cfg.RecordTurn,
		logger:       cfg.Logger.With(slog.String("component", "agent")),
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		sessionStart: time.Now(),
		metrics:      newMetrics(),
	}
	a.state.Store(int32(StateIdle))
	return a, nil
}

// State returns the agent's current state.
func (a *Agent) State() AgentState {
	return AgentState(a.state.Load())
}

// Metrics returns the agent's metric set.
func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

// Submit runs one conversation turn: userText to the model, the reply's
// mood to the renderer, the reply to the speaker, the exchange into
// history. It blocks until the spoken reply has fully ended, on success or
// error, and the agent is Idle again when it returns. A second Submit
// while one is in flight returns ErrBusy. Empty input is ignored.
func (a *Agent) Submit(ctx context.Context, userText string) error {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil
	}

	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingLLM)) {
		return ErrBusy
	}
	a.countTransition(StateIdle, StateAwaitingLLM)
	defer a.setState(StateIdle)

	a.logger.Info("turn started", slog.Int("chars", len(userText)))

	resp, err := a.llm.Chat(ctx, a.chatRequest(userText))
	if err != nil {
		a.metrics.LLMFailures.Add(1)
		return fmt.Errorf("turn: %w", err)
	}
	reply := resp.Message.Content

	mood := avatar.MoodNeutral
	if a.classify != nil {
		mood = a.classify(reply)
	}
	if a.renderer != nil {
		a.renderer.SetMood(mood)
	}

	a.firstReplyOnce.Do(func() {
		a.metrics.FirstReplyLatency.Set(float64(time.Since(a.sessionStart).Milliseconds()))
	})

	a.setState(StateSpeaking)
	speakErr := a.speaker.Speak(ctx, reply)
	if speakErr != nil {
		a.metrics.SpeakFailures.Add(1)
	}

	turn := Turn{User: userText, Assistant: reply, Mood: mood, At: time.Now()}
	a.appendTurn(turn)
	a.metrics.Turns.Add(1)

	if a.record != nil {
		// The mirror write survives a barge-in that cancelled the turn.
		if err := a.record(context.WithoutCancel(ctx), turn); err != nil {
			a.logger.Warn("turn not persisted", slog.String("error", err.Error()))
		}
	}

	if speakErr != nil {
		return fmt.Errorf("turn: speak: %w", speakErr)
	}
	a.logger.Info("turn finished", slog.String("mood", string(mood)))
	return nil
}

// Interrupt cuts the spoken reply short. The in-flight Submit then winds
// down normally. Safe in any state; a turn still waiting on the model is
// not affected.
func (a *Agent) Interrupt() {
	a.speaker.Stop()
}

// TranscriptHandler returns a capture OnTranscript callback feeding
// transcripts into Submit on their own goroutine. A transcript arriving
// while a turn is in flight is dropped, not queued: replaying it after the
// reply would speak over the user's next thought.
func (a *Agent) TranscriptHandler(ctx context.Context) func(string) {
	return func(text string) {
		go func() {
			err := a.Submit(ctx, text)
			switch {
			case err == nil:
			case errors.Is(err, ErrBusy):
				a.logger.Debug("transcript dropped while busy", slog.Int("chars", len(text)))
			default:
				a.logger.Error("voice turn failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// History returns a copy of the messages the next chat request will carry,
// without the system prompt.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Turns returns a copy of the retained completed turns, oldest first.
func (a *Agent) Turns() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

func (a *Agent) chatRequest(userText string) llm.ChatRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	msgs := make([]llm.Message, 0, len(a.history)+2)
	if a.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	}
	msgs = append(msgs, a.history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})

	return llm.ChatRequest{
		Messages:    msgs,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
}

func (a *Agent) appendTurn(t Turn) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history,
		llm.Message{Role: llm.RoleUser, Content: t.User},
		llm.Message{Role: llm.RoleAssistant, Content: t.Assistant},
	)
	if over := len(a.history)/2 - a.historyLimit; over > 0 {
		a.history = append(a.history[:0:0], a.history[over*2:]...)
	}

	a.turns = append(a.turns, t)
	if len(a.turns) > a.historyLimit {
		a.turns = append(a.turns[:0:0], a.turns[len(a.turns)-a.historyLimit:]...)
	}
}

func (a *Agent) setState(next AgentState) {
	prev := AgentState(a.state.Swap(int32(next)))
	if prev != next {
		a.countTransition(prev, next)
	}
}

func (a *Agent) countTransition(prev, next AgentState) {
	key := fmt.Sprintf("%s_to_%s", prev, next)
	if v := a.metrics.StateTransitions.Get(key); v != nil {
		v.(*expvar.Int).Add(1)
		return
	}
	counter := &expvar.Int{}
	counter.Set(1)
	a.metrics.StateTransitions.Set(key, counter)
}

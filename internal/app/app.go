// Package app holds the session lifecycle shared by the CLI commands:
// a cancellable root context plus shutdown hooks that run concurrently,
// survive panics, and are bounded by a timeout.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HookTimeout bounds how long Shutdown waits for hooks.
const HookTimeout = 5 * time.Second

// Session is the lifecycle root of one run of the program.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	hookTimeout time.Duration

	mu       sync.Mutex
	hooks    []func(reason string)
	shutdown bool
}

// NewSession derives a session from parent.
func NewSession(parent context.Context, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(slog.String("component", "session")),
		hookTimeout: HookTimeout,
	}
}

// Context returns the session context. It is cancelled when Shutdown has
// finished running hooks.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is a shorthand for Context().Done().
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// OnShutdown registers a hook to run during Shutdown. Hooks run
// concurrently and must tolerate any ordering. A hook registered after
// shutdown runs immediately.
func (s *Session) OnShutdown(hook func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		go s.runHook(hook, "session already shut down")
		return
	}
	s.hooks = append(s.hooks, hook)
}

// Shutdown runs the registered hooks, waits for them up to the hook
// timeout, then cancels the session context. Idempotent; hooks run exactly
// once.
func (s *Session) Shutdown(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return
	}
	s.shutdown = true

	s.logger.Info("session shutting down", slog.String("reason", reason))

	var wg sync.WaitGroup
	for _, hook := range s.hooks {
		wg.Add(1)
		go func(h func(string)) {
			defer wg.Done()
			s.runHook(h, reason)
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("shutdown hooks finished")
	case <-time.After(s.hookTimeout):
		s.logger.Warn("shutdown hooks timed out", slog.Duration("timeout", s.hookTimeout))
	}

	s.cancel()
}

func (s *Session) runHook(hook func(string), reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("shutdown hook panicked", slog.Any("panic", r))
		}
	}()
	hook(reason)
}

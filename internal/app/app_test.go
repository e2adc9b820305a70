package app

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownRunsHooksThenCancels(t *testing.T) {
	s := NewSession(context.Background(), quietLogger())

	var ran atomic.Int32
	var gotReason atomic.Value
	s.OnShutdown(func(reason string) {
		ran.Add(1)
		gotReason.Store(reason)
	})
	s.OnShutdown(func(string) { ran.Add(1) })

	select {
	case <-s.Done():
		t.Fatal("session context cancelled before Shutdown")
	default:
	}

	s.Shutdown("test over")

	if got := ran.Load(); got != 2 {
		t.Fatalf("expected 2 hooks to run, got %d", got)
	}
	if got := gotReason.Load(); got != "test over" {
		t.Fatalf("expected reason %q, got %v", "test over", got)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("session context not cancelled after Shutdown")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := NewSession(context.Background(), quietLogger())

	var ran atomic.Int32
	s.OnShutdown(func(string) { ran.Add(1) })

	s.Shutdown("first")
	s.Shutdown("second")

	if got := ran.Load(); got != 1 {
		t.Fatalf("expected hook to run once, ran %d times", got)
	}
}

func TestShutdownSurvivesPanickingHook(t *testing.T) {
	s := NewSession(context.Background(), quietLogger())

	var ran atomic.Int32
	s.OnShutdown(func(string) { panic("hook exploded") })
	s.OnShutdown(func(string) { ran.Add(1) })

	s.Shutdown("panic test")

	if got := ran.Load(); got != 1 {
		t.Fatalf("expected surviving hook to run, ran %d times", got)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("session context not cancelled after panicking hook")
	}
}

func TestShutdownTimesOutOnStuckHook(t *testing.T) {
	s := NewSession(context.Background(), quietLogger())
	s.hookTimeout = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	s.OnShutdown(func(string) { <-release })

	start := time.Now()
	s.Shutdown("stuck hook")
	elapsed := time.Since(start)

	if elapsed < s.hookTimeout {
		t.Fatalf("Shutdown returned in %v, before the %v hook timeout", elapsed, s.hookTimeout)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Shutdown took %v, hook timeout did not fire", elapsed)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("session context not cancelled after hook timeout")
	}
}

func TestOnShutdownAfterShutdownRunsImmediately(t *testing.T) {
	s := NewSession(context.Background(), quietLogger())
	s.Shutdown("already down")

	ran := make(chan struct{})
	s.OnShutdown(func(string) { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("late hook did not run")
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewSession(parent, quietLogger())

	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("parent cancellation did not reach session context")
	}
}

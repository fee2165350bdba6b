package async

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubPanicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubPanicLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubPanicLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

func waitHandle(t *testing.T, h *Handle) error {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for goroutine")
	}
	return h.Wait()
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &stubPanicLogger{}
	done := make(chan struct{})

	Go(logger, "test", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for goroutine")
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		messages := logger.snapshot()
		for _, msg := range messages {
			if strings.Contains(msg, "goroutine panic [test]") {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected panic log, got %v", messages)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecoverHandlesNilLogger(t *testing.T) {
	func() {
		defer Recover(nil, "nil-logger")
		panic("ignored")
	}()
}

func TestSpawnReturnsError(t *testing.T) {
	want := errors.New("runner failed")
	var exitErr error

	h := Spawn(nil, "task", func() error { return want }, func(err error) { exitErr = err })

	if err := waitHandle(t, h); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if !errors.Is(exitErr, want) {
		t.Fatalf("expected onExit to observe %v, got %v", want, exitErr)
	}
}

func TestSpawnConvertsPanicToError(t *testing.T) {
	logger := &stubPanicLogger{}
	exitCalls := 0

	h := Spawn(logger, "task-7", func() error { panic("kaboom") }, func(error) { exitCalls++ })

	err := waitHandle(t, h)
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if panicErr.Name != "task-7" || panicErr.Value != "kaboom" {
		t.Fatalf("unexpected panic error: %+v", panicErr)
	}
	if exitCalls != 1 {
		t.Fatalf("expected onExit once, got %d", exitCalls)
	}
	if len(logger.snapshot()) != 1 {
		t.Fatalf("expected one panic log, got %v", logger.snapshot())
	}
}

func TestSpawnSurvivesPanickingExitHook(t *testing.T) {
	logger := &stubPanicLogger{}

	h := Spawn(logger, "hook", func() error { return nil }, func(error) { panic("hook exploded") })

	if err := waitHandle(t, h); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	messages := logger.snapshot()
	if len(messages) != 1 || !strings.Contains(messages[0], "hook.exit") {
		t.Fatalf("expected exit hook panic to be logged, got %v", messages)
	}
}

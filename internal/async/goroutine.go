package async

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// PanicError is returned by a Handle when the goroutine panicked.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("goroutine panic: %v", e.Value)
	}
	return fmt.Sprintf("goroutine panic [%s]: %v", e.Name, e.Value)
}

// Handle joins a goroutine started with Spawn.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed once the goroutine has returned or panicked.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the goroutine finishes and returns its error, a
// *PanicError when it panicked.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Spawn runs fn in a goroutine and returns a Handle that reports its error
// or recovered panic. onExit, when non-nil, runs after fn with the final
// error, before Done is closed.
func Spawn(logger PanicLogger, name string, fn func() error, onExit func(error)) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if onExit != nil {
				defer Recover(logger, name+".exit")
				onExit(h.err)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				h.err = &PanicError{Name: name, Value: r, Stack: stack}
				if logger != nil {
					logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, stack)
				}
			}
		}()
		h.err = fn()
	}()
	return h
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}

// Package hostloop implements a minimal GUI-style host event loop: a
// process-wide Application that runs posted callbacks, in order, on the
// goroutine that called Exec, and supports nested (re-entrant) loops.
//
// It stands in for the foreign event loop (e.g. a UI toolkit's) that an
// embedded scheduler integrates with, and is the default host used by the
// bridge package.
package hostloop

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

var (
	// ErrInstanceExists is returned by NewApplication if another
	// Application has not been closed.
	ErrInstanceExists = errors.New("hostloop: an application instance already exists")

	// ErrClosed is returned by Exec on a closed Application.
	ErrClosed = errors.New("hostloop: application closed")
)

var (
	instanceMu sync.Mutex
	instance   *Application
)

// Instance returns the current Application, or nil if there is none.
func Instance() *Application {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// Application is the host loop. Post and Exit are thread-safe; everything
// else must be called from the goroutine running Exec, or before Exec.
type Application struct {
	logger *logiface.Logger[logiface.Event]

	mu     sync.Mutex
	queue  []func()
	quit   chan struct{}
	code   int
	err    error
	closed bool
	depth  int

	notify chan struct{}
}

// NewApplication creates and registers the process-wide Application.
func NewApplication(opts ...Option) (*Application, error) {
	cfg, err := resolveApplicationOptions(opts)
	if err != nil {
		return nil, err
	}
	a := &Application{
		logger: cfg.logger,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}

	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return nil, ErrInstanceExists
	}
	instance = a
	return a, nil
}

// Close unregisters the Application, dropping any queued callbacks.
func (a *Application) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	a.queue = nil
	a.mu.Unlock()

	instanceMu.Lock()
	if instance == a {
		instance = nil
	}
	instanceMu.Unlock()
	return nil
}

// Post queues fn to run on the host loop. Callbacks run in the order they
// were posted, never inline. Posting to a closed Application does nothing.
func (a *Application) Post(fn func()) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, fn)
	a.mu.Unlock()
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn once d has elapsed. The returned timer may be stopped.
func (a *Application) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { a.Post(fn) })
}

// Exec runs the main loop until Exit, returning the exit code.
func (a *Application) Exec() int {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Err().Err(ErrClosed).Log("exec failed")
		return -1
	}
	if a.depth == 0 {
		a.quit = make(chan struct{})
		a.code = 0
	}
	a.mu.Unlock()
	return a.run(nil)
}

// Exit makes Exec return code, after the current callback. Nested loops
// also return, with the same code. Thread-safe.
func (a *Application) Exit(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.quit:
	default:
		a.code = code
		close(a.quit)
	}
}

// RunNested runs a nested loop, dispatching callbacks until a code is
// received on exit (or Exit is called), and returns that code. It must be
// called on the loop goroutine, e.g. from a posted callback, or before Exec.
func (a *Application) RunNested(exit <-chan int) int {
	a.mu.Lock()
	if a.depth == 0 {
		select {
		case <-a.quit:
			a.quit = make(chan struct{})
			a.code = 0
		default:
		}
	}
	a.mu.Unlock()
	return a.run(exit)
}

// Depth returns the number of loops currently running (1 inside Exec).
func (a *Application) Depth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.depth
}

// ReportError records err, to be returned by Err, and exits the main loop
// with code 1. It is how embedded components surface fatal errors.
func (a *Application) ReportError(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	a.err = errors.Join(a.err, err)
	a.mu.Unlock()
	a.logger.Err().Err(err).Log("fatal error reported to host loop")
	a.Exit(1)
}

// Err returns the errors passed to ReportError.
func (a *Application) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Application) run(exit <-chan int) int {
	a.mu.Lock()
	a.depth++
	quit := a.quit
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.depth--
		a.mu.Unlock()
	}()

	for {
		for {
			if code, ok := a.exited(exit, quit); ok {
				return code
			}
			fn, ok := a.pop()
			if !ok {
				break
			}
			a.call(fn)
		}
		select {
		case code := <-exit:
			return code
		case <-quit:
			return a.exitCode()
		case <-a.notify:
		}
	}
}

func (a *Application) exited(exit <-chan int, quit <-chan struct{}) (int, bool) {
	select {
	case code := <-exit:
		return code, true
	case <-quit:
		return a.exitCode(), true
	default:
		return 0, false
	}
}

func (a *Application) exitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.code
}

func (a *Application) pop() (func(), bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return nil, false
	}
	fn := a.queue[0]
	a.queue[0] = nil
	a.queue = a.queue[1:]
	return fn, true
}

// call runs fn, logging and swallowing any panic.
func (a *Application) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			a.logger.Err().
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(buf[:n])).
				Log("panic in host loop callback")
		}
	}()
	fn()
}

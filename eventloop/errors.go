package eventloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
)

// Standard errors.
var (
	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed error = &IllegalStateError{Message: "eventloop: loop is closed"}

	// ErrLoopRunning is returned by Start (or Close) while a driver owns the loop.
	ErrLoopRunning error = &IllegalStateError{Message: "eventloop: loop is already running"}

	// ErrLoopNotRunning is returned by RunOnce when Start has not been called.
	ErrLoopNotRunning error = &IllegalStateError{Message: "eventloop: loop is not running"}

	// ErrNotLoopThread is returned by RunOnce when called from a goroutine
	// other than the one that called Start.
	ErrNotLoopThread error = &IllegalStateError{Message: "eventloop: RunOnce called off the loop goroutine"}

	// ErrSelectorClosed is returned by a Selector after Close.
	ErrSelectorClosed error = &IllegalStateError{Message: "eventloop: selector closed"}

	// ErrFutureDone is returned when settling a future that is already done.
	ErrFutureDone error = &IllegalStateError{Message: "eventloop: future already done"}

	// ErrFuturePending is returned by Future.Result before the future settles.
	ErrFuturePending error = &IllegalStateError{Message: "eventloop: future is still pending"}

	// ErrUnexpectedBlock is returned by RunForever when its selector defers
	// a wait, which only an embedding driver can service.
	ErrUnexpectedBlock error = &IllegalStateError{Message: "eventloop: selector deferred a wait without an embedding driver"}

	// ErrStoppedBeforeDone is returned by RunUntilComplete if the loop was
	// stopped before the future settled.
	ErrStoppedBeforeDone error = &IllegalStateError{Message: "eventloop: loop stopped before the future completed"}

	// ErrCancelled is the error of a cancelled Future or Task.
	ErrCancelled = fmt.Errorf("eventloop: cancelled: %w", context.Canceled)

	// ErrInterrupted is the fatal error raised for an interrupt signal. It
	// always unwinds out of the loop driver, see [IsFatal].
	ErrInterrupted = errors.New("eventloop: interrupted")
)

// PreconditionError indicates an operation was attempted without a context
// it requires, e.g. running an embedded scheduler without a host loop.
// These are always surfaced synchronously, and never retried.
type PreconditionError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	if e.Message == "" {
		return "precondition failed"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *PreconditionError) Unwrap() error {
	return e.Cause
}

// IllegalStateError indicates an operation that is invalid for the current
// lifecycle state, e.g. a double close, or registering with a closed selector.
type IllegalStateError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *IllegalStateError) Error() string {
	if e.Message == "" {
		return "illegal state"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *IllegalStateError) Unwrap() error {
	return e.Cause
}

// ExitError requests process termination with the given code. Like
// [ErrInterrupted] it is fatal, and unwinds out of the loop driver.
type ExitError struct {
	// Signal is set if the exit was triggered by a signal.
	Signal os.Signal
	Code   int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Signal != nil {
		return fmt.Sprintf("eventloop: exit %d (signal %v)", e.Code, e.Signal)
	}
	return fmt.Sprintf("eventloop: exit %d", e.Code)
}

// PanicError wraps a value recovered from a panicking callback, along with
// the stack trace at the point of the panic.
type PanicError struct {
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("eventloop: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, so that a panic with a
// fatal error (e.g. ErrInterrupted) is itself fatal.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}

// IsFatal reports whether err belongs to one of the two categories that
// always propagate out of a loop driver, instead of being reported to the
// exception handler: interrupts ([ErrInterrupted]) and exit requests
// ([*ExitError]). Wrapped errors and panic values are matched.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInterrupted) {
		return true
	}
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// safeCall invokes fn, converting a panic into a *PanicError.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn()
}

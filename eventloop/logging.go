package eventloop

import (
	"errors"
	"time"

	"github.com/joeycumines/go-catrate"
)

// ErrorContext describes a non-fatal error raised by a callback. It is
// passed to the loop's [ExceptionHandler].
type ErrorContext struct {
	// Err is the error returned (or the *PanicError recovered) by the callback.
	Err error
	// Message categorizes the error, e.g. "callback failed" or "task failed".
	Message string
	// Future is set if the error is a Future's (or Task's) unretrieved error.
	Future *Future
}

// ExceptionHandler receives errors that have no other destination. It is
// always called on the loop goroutine.
type ExceptionHandler func(loop *Loop, ctx ErrorContext)

func defaultErrorRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 5,
		time.Minute: 60,
	}
}

// CallExceptionHandler reports ctx to the configured handler, or to the
// default (logging) handler if none was configured. A panicking handler is
// recovered and its panic logged.
func (l *Loop) CallExceptionHandler(ctx ErrorContext) {
	if l.exceptionHandler == nil {
		l.DefaultExceptionHandler(ctx)
		return
	}
	if err := safeCall(func() error {
		l.exceptionHandler(l, ctx)
		return nil
	}); err != nil {
		l.DefaultExceptionHandler(ErrorContext{
			Err:     errors.Join(err, ctx.Err),
			Message: "exception handler failed",
		})
	}
}

// DefaultExceptionHandler logs ctx at error level, rate limited per
// ctx.Message. Suppressed errors are counted, and the count logged with the
// next error that is let through.
func (l *Loop) DefaultExceptionHandler(ctx ErrorContext) {
	message := ctx.Message
	if message == "" {
		message = "unhandled error in event loop"
	}
	if _, ok := l.errorLimiter.Allow(message); !ok {
		l.suppressedErrors.Add(1)
		return
	}
	b := l.logger.Err()
	if b == nil {
		return
	}
	b = b.Err(ctx.Err)
	if n := l.suppressedErrors.Swap(0); n != 0 {
		b = b.Uint64("suppressed", n)
	}
	var panicErr *PanicError
	if errors.As(ctx.Err, &panicErr) {
		b = b.Str("stack", panicErr.Stack)
	}
	b.Log(message)
}

func newErrorLimiter(rates map[time.Duration]int) *catrate.Limiter {
	if len(rates) == 0 {
		return nil
	}
	return catrate.NewLimiter(rates)
}

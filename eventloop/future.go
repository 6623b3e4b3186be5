package eventloop

import (
	"errors"
	"time"
)

// FutureState is the settlement state of a [Future].
type FutureState uint8

const (
	// FuturePending indicates the future has not settled.
	FuturePending FutureState = iota
	// FutureFulfilled indicates the future settled with a result.
	FutureFulfilled
	// FutureRejected indicates the future settled with an error.
	FutureRejected
	// FutureCancelled indicates the future was cancelled.
	FutureCancelled
)

// String returns a human-readable representation of the state.
func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "Pending"
	case FutureFulfilled:
		return "Fulfilled"
	case FutureRejected:
		return "Rejected"
	case FutureCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Future is a placeholder for a result that is produced later, on a loop.
// Done callbacks are scheduled on the loop once the future settles.
//
// Futures are not thread-safe: use them only on their loop's goroutine, and
// use [Loop.Submit] to settle them from elsewhere.
type Future struct {
	loop      *Loop
	result    any
	err       error
	callbacks []func() error
	state     FutureState
}

// NewFuture creates a pending future bound to l.
func (l *Loop) NewFuture() *Future {
	return &Future{loop: l}
}

// Loop returns the loop the future is bound to.
func (f *Future) Loop() *Loop {
	return f.loop
}

// State returns the current state.
func (f *Future) State() FutureState {
	return f.state
}

// Done reports whether the future has settled (in any way).
func (f *Future) Done() bool {
	return f.state != FuturePending
}

// Cancelled reports whether the future was cancelled.
func (f *Future) Cancelled() bool {
	return f.state == FutureCancelled
}

// SetResult fulfills the future.
func (f *Future) SetResult(v any) error {
	if f.Done() {
		return ErrFutureDone
	}
	f.result = v
	f.settle(FutureFulfilled)
	return nil
}

// SetError rejects the future. A nil err is rejected as a precondition failure.
func (f *Future) SetError(err error) error {
	if err == nil {
		return &PreconditionError{Message: "eventloop: future rejected with nil error"}
	}
	if f.Done() {
		return ErrFutureDone
	}
	if errors.Is(err, ErrCancelled) {
		f.settle(FutureCancelled)
		return nil
	}
	f.err = err
	f.settle(FutureRejected)
	return nil
}

// Cancel cancels the future, reporting false if it had already settled.
func (f *Future) Cancel() bool {
	if f.Done() {
		return false
	}
	f.settle(FutureCancelled)
	return true
}

// Result returns the outcome of a settled future. A pending future returns
// [ErrFuturePending], and a cancelled one [ErrCancelled].
func (f *Future) Result() (any, error) {
	switch f.state {
	case FuturePending:
		return nil, ErrFuturePending
	case FutureCancelled:
		return nil, ErrCancelled
	case FutureRejected:
		return nil, f.err
	default:
		return f.result, nil
	}
}

// Err returns the error of a settled future, or nil.
func (f *Future) Err() error {
	switch f.state {
	case FutureCancelled:
		return ErrCancelled
	case FutureRejected:
		return f.err
	default:
		return nil
	}
}

// AddDoneCallback schedules fn to run on the loop once the future settles,
// or on the next iteration if it already has.
func (f *Future) AddDoneCallback(fn func(*Future)) {
	f.addDoneCallback(func() error {
		fn(f)
		return nil
	})
}

func (f *Future) addDoneCallback(fn func() error) {
	if f.Done() {
		f.schedule(fn)
		return
	}
	f.callbacks = append(f.callbacks, fn)
}

func (f *Future) settle(state FutureState) {
	f.state = state
	callbacks := f.callbacks
	f.callbacks = nil
	for _, fn := range callbacks {
		f.schedule(fn)
	}
}

func (f *Future) schedule(fn func() error) {
	if f.loop == nil {
		_ = safeCall(fn)
		return
	}
	if _, err := f.loop.ScheduleNow(fn); err != nil {
		// closed loop: run inline so waiters are not leaked
		_ = safeCall(fn)
	}
}

// Sleep returns a future that is fulfilled after d. Cancelling the future
// cancels the underlying timer.
func (l *Loop) Sleep(d time.Duration) *Future {
	f := l.NewFuture()
	timer, err := l.ScheduleAfter(d, func() error {
		_ = f.SetResult(nil)
		return nil
	})
	if err != nil {
		_ = f.SetError(err)
		return f
	}
	f.addDoneCallback(func() error {
		timer.Cancel()
		return nil
	})
	return f
}

package eventloop

import (
	"context"
	"errors"
	"iter"
)

// Await suspends the calling task until f settles, returning its outcome.
// It returns [ErrCancelled] if the task is cancelled while suspended.
type Await func(f *Future) (any, error)

// TaskFunc is the body of a [Task]. It runs as a coroutine (see
// [iter.Pull]), resumed and suspended by loop callbacks, so it never runs
// concurrently with the loop. It is not on the loop goroutine, however:
// [Loop.IsLoopThread] reports false within it, and anything keyed by
// goroutine identity sees a different goroutine. It must only suspend via
// await. ctx is cancelled when the task is cancelled.
type TaskFunc func(ctx context.Context, await Await) (any, error)

// Task runs a TaskFunc as a coroutine on a loop, and is the [Future] of its
// outcome. Each resumption is a separate loop callback, so tasks interleave
// with other work at their await points.
type Task struct {
	Future

	next   func() (*Future, bool)
	stop   func()
	ctx    context.Context
	cancel context.CancelFunc

	waiting    *Future
	mustCancel bool
	started    bool

	value any
	err   error
}

// CreateTask schedules fn to start on the next iteration.
func (l *Loop) CreateTask(fn TaskFunc) (*Task, error) {
	if fn == nil {
		return nil, errors.New("eventloop: nil task function")
	}
	if l.state.Load() == StateClosed {
		return nil, ErrLoopClosed
	}

	t := &Task{Future: Future{loop: l}}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.next, t.stop = iter.Pull(func(yield func(*Future) bool) {
		await := func(f *Future) (any, error) {
			if f == nil {
				return nil, errors.New("eventloop: await nil future")
			}
			if !f.Done() {
				if !yield(f) {
					return nil, ErrCancelled
				}
			}
			if t.mustCancel {
				t.mustCancel = false
				return nil, ErrCancelled
			}
			return f.Result()
		}
		t.value, t.err = fn(t.ctx, await)
	})

	if _, err := l.ScheduleNow(t.step); err != nil {
		t.stop()
		t.cancel()
		return nil, err
	}
	l.tasks[t] = struct{}{}
	return t, nil
}

// Cancel requests cancellation: the awaited future (if any) is cancelled,
// ctx is cancelled, and the pending await returns [ErrCancelled]. The task
// settles once its function returns. Reports false if already done.
func (t *Task) Cancel() bool {
	if t.Done() {
		return false
	}
	t.cancel()
	if t.waiting != nil && t.waiting.Cancel() {
		return true
	}
	t.mustCancel = true
	return true
}

// Context returns the task's context.
func (t *Task) Context() context.Context {
	return t.ctx
}

// step resumes the coroutine until it next suspends or returns.
func (t *Task) step() error {
	if t.Done() {
		return nil
	}
	t.waiting = nil
	if !t.started && t.mustCancel {
		return t.finish(nil, ErrCancelled)
	}
	t.started = true

	var (
		fut *Future
		ok  bool
	)
	if err := safeCall(func() error {
		fut, ok = t.next()
		return nil
	}); err != nil {
		return t.finish(nil, err)
	}
	if !ok {
		return t.finish(t.value, t.err)
	}

	t.waiting = fut
	fut.addDoneCallback(func() error {
		if t.waiting != fut {
			return nil
		}
		return t.step()
	})
	return nil
}

// finish settles the task. Fatal errors are also returned, so that they
// unwind out of the loop.
func (t *Task) finish(value any, err error) error {
	cancelled := errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) && t.ctx.Err() != nil
	delete(t.loop.tasks, t)
	t.cancel()
	t.stop()
	switch {
	case err == nil:
		_ = t.SetResult(value)
	case cancelled:
		t.settle(FutureCancelled)
	default:
		_ = t.SetError(err)
		if IsFatal(err) {
			return err
		}
	}
	return nil
}

// abandon stops a task whose loop is closing, settling it as cancelled.
func (t *Task) abandon() {
	if t.Done() {
		return
	}
	t.cancel()
	t.stop()
	t.state = FutureCancelled
	t.callbacks = nil
}

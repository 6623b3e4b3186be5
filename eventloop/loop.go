package eventloop

import (
	"container/heap"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-embedloop/goroutineid"
	"github.com/joeycumines/logiface"
)

// StepResult is the outcome of [Loop.RunOnce].
type StepResult int

const (
	// StepCompleted indicates the iteration ran to the end.
	StepCompleted StepResult = iota
	// StepBlocked indicates the selector deferred its wait (see [WouldBlock]).
	// Nothing was run, and the driver must not call RunOnce again until the
	// selector's completion has been signalled.
	StepBlocked
)

// String returns a human-readable representation of the result.
func (r StepResult) String() string {
	switch r {
	case StepCompleted:
		return "Completed"
	case StepBlocked:
		return "Blocked"
	default:
		return "Unknown"
	}
}

// IOCallback is invoked, on the loop goroutine, with the ready events of a
// registered file descriptor.
type IOCallback func(events IOEvents) error

// Loop is a single-threaded cooperative scheduler: ready callbacks, timers,
// and I/O readiness callbacks, multiplexed through a [Selector].
//
// A Loop is driven by calling [Loop.Start], then [Loop.RunOnce] repeatedly,
// then [Loop.Finish], all from the same goroutine. [Loop.RunForever] does
// this until [Loop.Stop]. Methods documented as thread-safe may be called
// from any goroutine; all others must be called from the driving goroutine
// (or, while the loop is idle, from a goroutine that owns it).
type Loop struct { // betteralign:ignore
	state *FastState

	selector Selector
	waker    *Waker

	logger           *logiface.Logger[logiface.Event]
	exceptionHandler ExceptionHandler
	errorLimiter     *catrate.Limiter
	suppressedErrors atomic.Uint64
	scheduleHook     func()

	readyMu sync.Mutex
	ready   []*Handle

	timers         timerHeap
	timerCancelled atomic.Int64

	fds   map[int]IOCallback
	tasks map[*Task]struct{}

	signals signalState

	stopping atomic.Bool
	owner    atomic.Uint64
}

// New creates a Loop. The loop's selector is closed by [Loop.Close], even
// if it was supplied via [WithSelector].
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	selector := cfg.selector
	if selector == nil {
		if selector, err = NewDefaultSelector(); err != nil {
			return nil, fmt.Errorf("eventloop: create selector: %w", err)
		}
	}

	waker, err := NewWaker()
	if err != nil {
		_ = selector.Close()
		return nil, fmt.Errorf("eventloop: create waker: %w", err)
	}
	if err := selector.Register(waker.FD(), EventRead); err != nil {
		_ = waker.Close()
		_ = selector.Close()
		return nil, fmt.Errorf("eventloop: register waker: %w", err)
	}

	l := &Loop{
		state:            NewFastState(),
		selector:         selector,
		waker:            waker,
		logger:           cfg.logger,
		exceptionHandler: cfg.exceptionHandler,
		errorLimiter:     newErrorLimiter(cfg.errorRates),
		scheduleHook:     cfg.scheduleHook,
		fds:              make(map[int]IOCallback),
		tasks:            make(map[*Task]struct{}),
	}
	l.signals.init()

	for _, sig := range cfg.signals {
		if err := l.AddSignalHandler(sig, interruptHandler(sig)); err != nil {
			_ = l.Close()
			return nil, err
		}
	}

	return l, nil
}

// State returns the current lifecycle state. Thread-safe.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Logger returns the configured logger, which may be nil.
func (l *Loop) Logger() *logiface.Logger[logiface.Event] {
	return l.logger
}

// Start claims the loop for the calling goroutine, which becomes the only
// goroutine permitted to call RunOnce until Finish.
func (l *Loop) Start() error {
	if !l.state.TryTransition(StateIdle, StateRunning) {
		if l.state.Load() == StateClosed {
			return ErrLoopClosed
		}
		return ErrLoopRunning
	}
	l.owner.Store(goroutineid.Current())
	l.signals.start(l)
	return nil
}

// Finish releases the loop after Start, clearing any pending stop request.
func (l *Loop) Finish() {
	if l.state.Load() != StateRunning {
		return
	}
	l.signals.stop()
	l.stopping.Store(false)
	l.owner.Store(0)
	l.state.TryTransition(StateRunning, StateIdle)
}

// Stop requests that the driver return after the current iteration. Thread-safe.
func (l *Loop) Stop() {
	l.stopping.Store(true)
	if l.state.Load() == StateRunning {
		_ = l.waker.Wake()
	}
}

// Stopping reports whether Stop was called since the last Finish. Thread-safe.
func (l *Loop) Stopping() bool {
	return l.stopping.Load()
}

// IsLoopThread reports whether the caller is the goroutine that called Start.
func (l *Loop) IsLoopThread() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goroutineid.Current()
}

// RunOnce runs one iteration: poll the selector (without waiting if there is
// ready work), queue the callbacks of ready file descriptors and expired
// timers, then run every callback that was ready at that point.
//
// Errors returned or panicked by callbacks are reported to the exception
// handler, except for fatal errors (see [IsFatal]), which stop the iteration
// and are returned. Callbacks that did not get to run remain queued.
func (l *Loop) RunOnce() (StepResult, error) {
	switch l.state.Load() {
	case StateRunning:
	case StateClosed:
		return StepCompleted, ErrLoopClosed
	default:
		return StepCompleted, ErrLoopNotRunning
	}
	if !l.IsLoopThread() {
		return StepCompleted, ErrNotLoopThread
	}

	l.purgeCancelledTimers()

	poll, err := l.selector.Select(l.nextTimeout())
	if err != nil {
		return StepCompleted, fmt.Errorf("eventloop: select: %w", err)
	}
	if poll.Blocked() {
		return StepBlocked, nil
	}

	l.processEvents(poll.Events())
	l.promoteTimers(time.Now())

	return StepCompleted, l.runReady()
}

// RunForever drives the loop on the calling goroutine until Stop.
//
// It returns [ErrUnexpectedBlock] if the selector defers a wait, as only an
// embedding driver can service that.
func (l *Loop) RunForever() error {
	if err := l.Start(); err != nil {
		return err
	}
	defer l.Finish()
	for {
		res, err := l.RunOnce()
		if err != nil {
			return err
		}
		if res == StepBlocked {
			return ErrUnexpectedBlock
		}
		if l.stopping.Load() {
			return nil
		}
	}
}

// RunUntilComplete drives the loop until f settles, returning its result.
func (l *Loop) RunUntilComplete(f *Future) (any, error) {
	return RunUntilComplete(l, l.RunForever, f)
}

// RunUntilComplete runs f to completion on loop, using run to drive it. It
// is exported for drivers other than [Loop.RunForever].
func RunUntilComplete(loop *Loop, run func() error, f *Future) (any, error) {
	if f == nil {
		return nil, errors.New("eventloop: nil future")
	}
	var detached bool
	f.addDoneCallback(func() error {
		if !detached {
			loop.Stop()
		}
		return nil
	})
	err := run()
	detached = true
	if err != nil {
		return nil, err
	}
	if !f.Done() {
		return nil, ErrStoppedBeforeDone
	}
	return f.Result()
}

// Close releases the loop's resources, cancelling pending timers and tasks.
// It fails with ErrLoopRunning while the loop is being driven.
func (l *Loop) Close() error {
	if !l.state.TryTransition(StateIdle, StateClosed) {
		if l.state.Load() == StateClosed {
			return ErrLoopClosed
		}
		return ErrLoopRunning
	}

	for t := range l.tasks {
		t.abandon()
	}
	clear(l.tasks)

	for _, t := range l.timers {
		t.cancelled.Store(true)
	}
	l.timers = nil

	l.readyMu.Lock()
	l.ready = nil
	l.readyMu.Unlock()

	l.signals.close()

	var errs []error
	if err := l.selector.Unregister(l.waker.FD()); err != nil && !errors.Is(err, ErrSelectorClosed) {
		errs = append(errs, err)
	}
	clear(l.fds)
	if err := l.selector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.waker.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ScheduleNow queues fn to run on the next iteration.
func (l *Loop) ScheduleNow(fn func() error) (*Handle, error) {
	if fn == nil {
		return nil, errors.New("eventloop: nil callback")
	}
	if l.state.Load() == StateClosed {
		return nil, ErrLoopClosed
	}
	l.onSchedule()
	h := &Handle{fn: fn}
	l.readyMu.Lock()
	l.ready = append(l.ready, h)
	l.readyMu.Unlock()
	return h, nil
}

// ScheduleAfter queues fn to run once delay has elapsed.
func (l *Loop) ScheduleAfter(delay time.Duration, fn func() error) (*TimerHandle, error) {
	return l.ScheduleAt(time.Now().Add(delay), fn)
}

// ScheduleAt queues fn to run at (or soon after) when.
func (l *Loop) ScheduleAt(when time.Time, fn func() error) (*TimerHandle, error) {
	if fn == nil {
		return nil, errors.New("eventloop: nil callback")
	}
	if l.state.Load() == StateClosed {
		return nil, ErrLoopClosed
	}
	l.onSchedule()
	t := &TimerHandle{
		Handle: Handle{fn: fn},
		when:   when,
		loop:   l,
	}
	heap.Push(&l.timers, t)
	return t, nil
}

// Submit queues fn to run on the next iteration, waking the loop if it is
// waiting in its selector. Thread-safe.
func (l *Loop) Submit(fn func() error) error {
	if fn == nil {
		return errors.New("eventloop: nil callback")
	}
	if l.state.Load() == StateClosed {
		return ErrLoopClosed
	}
	l.readyMu.Lock()
	l.ready = append(l.ready, &Handle{fn: fn})
	l.readyMu.Unlock()
	if err := l.waker.Wake(); err != nil && !errors.Is(err, ErrSelectorClosed) {
		return err
	}
	return nil
}

// RegisterFD starts watching fd, calling cb with its ready events.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if cb == nil {
		return errors.New("eventloop: nil callback")
	}
	if l.state.Load() == StateClosed {
		return ErrLoopClosed
	}
	if fd == l.waker.FD() {
		return ErrFDAlreadyRegistered
	}
	if err := l.selector.Register(fd, events); err != nil {
		return err
	}
	l.fds[fd] = cb
	return nil
}

// UnregisterFD stops watching fd.
func (l *Loop) UnregisterFD(fd int) error {
	if l.state.Load() == StateClosed {
		return ErrLoopClosed
	}
	if _, ok := l.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(l.fds, fd)
	return l.selector.Unregister(fd)
}

// ModifyFD replaces the watched events for fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	if l.state.Load() == StateClosed {
		return ErrLoopClosed
	}
	if _, ok := l.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	return l.selector.Modify(fd, events)
}

func (l *Loop) onSchedule() {
	if l.scheduleHook != nil {
		l.scheduleHook()
	}
}

func (l *Loop) hasReady() bool {
	l.readyMu.Lock()
	defer l.readyMu.Unlock()
	return len(l.ready) != 0
}

// nextTimeout is zero if there is work to do, otherwise the time until the
// earliest timer, or Forever.
func (l *Loop) nextTimeout() time.Duration {
	if l.stopping.Load() || l.hasReady() {
		return 0
	}
	t := l.timers.peek()
	if t == nil {
		return Forever
	}
	d := time.Until(t.when)
	if d < 0 {
		return 0
	}
	return d
}

// purgeCancelledTimers compacts the heap once cancelled timers make up at
// least half of it.
func (l *Loop) purgeCancelledTimers() {
	const minTimers = 64
	n := l.timerCancelled.Load()
	if len(l.timers) < minTimers || n*2 < int64(len(l.timers)) {
		return
	}
	l.timers.compact()
	l.timerCancelled.Store(0)
}

func (l *Loop) processEvents(events []FDEvent) {
	for _, ev := range events {
		if ev.FD == l.waker.FD() {
			l.waker.Drain()
			continue
		}
		cb, ok := l.fds[ev.FD]
		if !ok {
			continue
		}
		ready := ev.Events
		l.readyMu.Lock()
		l.ready = append(l.ready, &Handle{fn: func() error { return cb(ready) }})
		l.readyMu.Unlock()
	}
}

func (l *Loop) promoteTimers(now time.Time) {
	for {
		t := l.timers.peek()
		if t == nil || t.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		if t.Cancelled() {
			continue
		}
		l.readyMu.Lock()
		l.ready = append(l.ready, &t.Handle)
		l.readyMu.Unlock()
	}
}

// runReady runs the callbacks that are ready now. Callbacks queued while it
// runs wait for the next iteration.
func (l *Loop) runReady() error {
	l.readyMu.Lock()
	batch := l.ready
	l.ready = nil
	l.readyMu.Unlock()

	for i, h := range batch {
		if h.Cancelled() {
			continue
		}
		err := safeCall(h.fn)
		if err == nil {
			continue
		}
		if IsFatal(err) {
			l.requeue(batch[i+1:])
			return err
		}
		l.CallExceptionHandler(ErrorContext{Err: err, Message: "callback failed"})
	}
	return nil
}

// requeue puts handles back at the front of the ready queue
func (l *Loop) requeue(handles []*Handle) {
	if len(handles) == 0 {
		return
	}
	l.readyMu.Lock()
	l.ready = append(append(make([]*Handle, 0, len(handles)+len(l.ready)), handles...), l.ready...)
	l.readyMu.Unlock()
}

func interruptHandler(sig os.Signal) func() error {
	return func() error {
		if sig == os.Interrupt {
			return ErrInterrupted
		}
		return &ExitError{Signal: sig, Code: exitCode(sig)}
	}
}

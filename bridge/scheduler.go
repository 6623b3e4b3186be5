package bridge

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-embedloop/eventloop"
	"github.com/joeycumines/go-embedloop/goroutineid"
	"github.com/joeycumines/logiface"
)

// Stepper is the scheduler capability driven by a [Scheduler]: a loop that
// can be advanced one iteration at a time.
type Stepper interface {
	Start() error
	RunOnce() (eventloop.StepResult, error)
	Stopping() bool
	Stop()
	Finish()
}

var _ Stepper = (*eventloop.Loop)(nil)

// RunMode records how a Scheduler is being driven.
type RunMode int32

const (
	// ModeIdle indicates the scheduler is not running.
	ModeIdle RunMode = iota
	// ModeNested indicates RunForever is running a nested host loop.
	ModeNested
	// ModeEmbedded indicates the scheduler rides a host loop run by the
	// caller, see [Using].
	ModeEmbedded
)

// String returns a human-readable representation of the mode.
func (m RunMode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeNested:
		return "Nested"
	case ModeEmbedded:
		return "Embedded"
	default:
		return "Unknown"
	}
}

// State is the lifecycle state of a Scheduler.
//
//	StateNotStarted → StateRunning            [RunForever]
//	StateRunning ⇄ StateBlocked               [step deferred its wait / wait completed]
//	StateRunning, StateBlocked → StateStopping [Stop]
//	StateStopping → StateStopped              [stop observed by a step]
//	StateStopped → StateRunning               [RunForever]
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateBlocked
	StateStopping
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Scheduler runs an [eventloop.Loop] inside a foreign host loop. Each wake
// delivered by the host runs exactly one loop iteration, and when the loop
// would wait for I/O, the wait is handed to a background worker whose
// completion wakes the scheduler again. The host loop is never blocked.
//
// Scheduling methods, like the loop itself, must be called on the host
// loop's dispatch goroutine; use Submit or Stop from other goroutines.
type Scheduler struct { // betteralign:ignore
	loop     *eventloop.Loop
	selector *YieldingSelector
	host     Host
	logger   *logiface.Logger[logiface.Event]
	metrics  schedulerMetrics

	wake    *WakeChannel
	exit    chan int
	stepErr error
	owner   uint64

	mode    atomic.Int32
	state   atomic.Int32
	blocked atomic.Bool
}

// New creates a Scheduler, with its own loop and selector.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}

	inner := cfg.selector
	if inner == nil {
		if inner, err = eventloop.NewDefaultSelector(); err != nil {
			return nil, fmt.Errorf("bridge: create selector: %w", err)
		}
	}
	selector, err := NewYieldingSelector(inner, cfg.logger)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}

	s := &Scheduler{
		selector: selector,
		host:     cfg.host,
		logger:   cfg.logger,
	}

	loopOpts := append([]eventloop.LoopOption{eventloop.WithLogger(cfg.logger)}, cfg.loopOptions...)
	loopOpts = append(loopOpts,
		eventloop.WithSelector(selector),
		eventloop.WithScheduleHook(s.wakeIfBlocked),
	)
	if s.loop, err = eventloop.New(loopOpts...); err != nil {
		_ = selector.Close()
		return nil, err
	}
	return s, nil
}

// Loop returns the underlying loop.
func (s *Scheduler) Loop() *eventloop.Loop {
	return s.loop
}

// Selector returns the scheduler's YieldingSelector.
func (s *Scheduler) Selector() *YieldingSelector {
	return s.selector
}

// Mode returns how the scheduler is currently being driven. Thread-safe.
func (s *Scheduler) Mode() RunMode {
	return RunMode(s.mode.Load())
}

// State returns the lifecycle state. Thread-safe.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// RunForever starts the scheduler on the host loop.
//
// If s is [Current] on this goroutine (see [Using]), the scheduler is
// embedded: RunForever arms the first step and returns immediately, and the
// caller's host loop drives it, and a fatal step error is reported to the
// host (see [ErrorReporter]) and kept as [Scheduler.Err]. Otherwise
// RunForever runs a nested host loop until Stop, returning any fatal error
// raised by a step.
//
// It must be called on the host loop's dispatch goroutine.
func (s *Scheduler) RunForever() error {
	host := s.resolveHost()
	if host == nil {
		return &eventloop.PreconditionError{Message: "bridge: run requires a host loop", Cause: ErrNoHostLoop}
	}
	if s.loop.State() == eventloop.StateClosed {
		return illegalState("bridge: scheduler is closed", eventloop.ErrLoopClosed)
	}
	if s.Mode() != ModeIdle {
		return illegalState("bridge: scheduler is already running", eventloop.ErrLoopRunning)
	}

	gid := goroutineid.Current()
	if !registry.claimRunning(gid, s) {
		return illegalState("bridge: cannot run scheduler", ErrAnotherLoopRunning)
	}
	if err := s.loop.Start(); err != nil {
		registry.releaseRunning(gid, s)
		return err
	}

	s.owner = gid
	s.stepErr = nil
	s.exit = make(chan int, 1)
	s.wake = NewWakeChannel(host, s.step)
	s.selector.SetNotifier(s.wake.Raise)
	s.state.Store(int32(StateRunning))

	if Current() == s {
		s.mode.Store(int32(ModeEmbedded))
		s.wake.Raise()
		return nil
	}

	s.mode.Store(int32(ModeNested))
	defer s.teardown()
	s.wake.Raise()
	code := host.RunNested(s.exit)
	if s.stepErr != nil {
		return s.stepErr
	}
	if code != 0 {
		return fmt.Errorf("bridge: host loop exited with code %d", code)
	}
	return nil
}

// RunUntilComplete runs a nested host loop until f settles, returning its
// outcome. It fails with [ErrEmbedded] if the scheduler is embedded.
func (s *Scheduler) RunUntilComplete(f *eventloop.Future) (any, error) {
	if Current() == s {
		return nil, illegalState("bridge: cannot run until complete", ErrEmbedded)
	}
	return eventloop.RunUntilComplete(s.loop, s.RunForever, f)
}

// Stop requests the scheduler stop after the current step. Thread-safe.
func (s *Scheduler) Stop() {
	s.loop.Stop()
	if st := s.State(); st == StateRunning || st == StateBlocked {
		s.state.CompareAndSwap(int32(st), int32(StateStopping))
	}
	if s.blocked.Load() {
		s.metrics.forcedWakes.Add(1)
		s.selector.Interrupt()
	}
}

// Close releases the loop and selector. It fails while running.
func (s *Scheduler) Close() error {
	if s.Mode() != ModeIdle {
		return illegalState("bridge: close while running", eventloop.ErrLoopRunning)
	}
	return s.loop.Close()
}

// ScheduleNow queues fn to run on the next step.
func (s *Scheduler) ScheduleNow(fn func() error) (*eventloop.Handle, error) {
	return s.loop.ScheduleNow(fn)
}

// ScheduleAfter queues fn to run once delay has elapsed.
func (s *Scheduler) ScheduleAfter(delay time.Duration, fn func() error) (*eventloop.TimerHandle, error) {
	return s.loop.ScheduleAfter(delay, fn)
}

// ScheduleAt queues fn to run at when.
func (s *Scheduler) ScheduleAt(when time.Time, fn func() error) (*eventloop.TimerHandle, error) {
	return s.loop.ScheduleAt(when, fn)
}

// Submit queues fn from any goroutine. Thread-safe.
func (s *Scheduler) Submit(fn func() error) error {
	return s.loop.Submit(fn)
}

// CreateTask starts fn as a task on the scheduler.
func (s *Scheduler) CreateTask(fn eventloop.TaskFunc) (*eventloop.Task, error) {
	return s.loop.CreateTask(fn)
}

// RegisterFD starts watching fd. An outstanding background wait is retired
// first, so the next poll observes the new interest.
func (s *Scheduler) RegisterFD(fd int, events eventloop.IOEvents, cb eventloop.IOCallback) error {
	return s.loop.RegisterFD(fd, events, cb)
}

// UnregisterFD stops watching fd, retiring any outstanding background wait.
func (s *Scheduler) UnregisterFD(fd int) error {
	return s.loop.UnregisterFD(fd)
}

// ModifyFD changes the events watched for fd, retiring any outstanding
// background wait.
func (s *Scheduler) ModifyFD(fd int, events eventloop.IOEvents) error {
	return s.loop.ModifyFD(fd, events)
}

// Metrics returns a snapshot of the scheduler's counters. Thread-safe.
func (s *Scheduler) Metrics() Metrics {
	return Metrics{
		Selector:     s.selector.Stats(),
		StepLatency:  s.metrics.latency.Snapshot(),
		Steps:        s.metrics.steps.Load(),
		BlockedSteps: s.metrics.blockedSteps.Load(),
		StaleWakes:   s.metrics.staleWakes.Load(),
		ForcedWakes:  s.metrics.forcedWakes.Load(),
	}
}

func (s *Scheduler) resolveHost() Host {
	if s.host != nil {
		return s.host
	}
	return defaultHost()
}

// wakeIfBlocked is the loop's schedule hook: new work must not wait for an
// unrelated background timeout.
func (s *Scheduler) wakeIfBlocked() {
	if s.blocked.Load() {
		s.metrics.forcedWakes.Add(1)
		s.selector.Interrupt()
	}
}

// step handles one wake delivery.
func (s *Scheduler) step(w *WakeChannel) {
	if w != s.wake || !w.Installed() {
		s.metrics.staleWakes.Add(1)
		s.logger.Debug().Log("ignored stale wake")
		return
	}
	s.blocked.Store(false)

	if s.loop.Stopping() {
		s.stopped()
		return
	}

	s.metrics.steps.Add(1)
	start := time.Now()
	res, err := s.loop.RunOnce()
	s.metrics.latency.Record(time.Since(start))

	if err != nil {
		s.fail(err)
		return
	}

	if res == eventloop.StepBlocked {
		s.metrics.blockedSteps.Add(1)
		s.blocked.Store(true)
		s.state.CompareAndSwap(int32(StateRunning), int32(StateBlocked))
		// a Stop that raced the block may have missed it
		if s.loop.Stopping() {
			s.selector.Interrupt()
		}
		return
	}

	s.state.CompareAndSwap(int32(StateBlocked), int32(StateRunning))
	w.Raise()
}

// stopped handles a stop observed by a step.
func (s *Scheduler) stopped() {
	switch s.Mode() {
	case ModeNested:
		s.requestExit(0)
	case ModeEmbedded:
		s.teardown()
	}
}

// fail handles a fatal step error.
func (s *Scheduler) fail(err error) {
	s.stepErr = err
	s.logger.Err().Err(err).Str("mode", s.Mode().String()).Log("scheduler step failed")
	switch s.Mode() {
	case ModeNested:
		s.requestExit(1)
	case ModeEmbedded:
		host := s.wake.host
		s.teardown()
		if reporter, ok := host.(ErrorReporter); ok {
			reporter.ReportError(err)
			return
		}
		// the host's own barrier decides whether this is fatal
		panic(err)
	}
}

func (s *Scheduler) requestExit(code int) {
	select {
	case s.exit <- code:
	default:
	}
}

// teardown ends the current run. Any background wait is retired (and
// awaited) before the loop is released.
func (s *Scheduler) teardown() {
	if s.Mode() == ModeIdle {
		return
	}
	s.selector.SetNotifier(nil)
	s.wake.Uninstall()
	s.wake = nil
	s.blocked.Store(false)
	s.loop.Finish()
	registry.releaseRunning(s.owner, s)
	s.owner = 0
	s.mode.Store(int32(ModeIdle))
	s.state.Store(int32(StateStopped))
}

// Err returns the fatal error that ended the most recent run, or nil. It is
// cleared when a new run starts, and by [Using] once it has returned it.
// Like RunForever, it must be called on the host loop's dispatch goroutine.
func (s *Scheduler) Err() error {
	return s.stepErr
}

// shutdownEmbedded stops an embedded run that is still active, returning
// the error that ended the run, if any.
func (s *Scheduler) shutdownEmbedded() error {
	if s.Mode() == ModeEmbedded {
		s.teardown()
	}
	err := s.stepErr
	s.stepErr = nil
	return err
}

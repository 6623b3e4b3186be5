package bridge

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-embedloop/eventloop"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// pendingWait is a Select handed to the background worker. The worker
// writes events and err, then closes done.
type pendingWait struct {
	done      chan struct{}
	events    []eventloop.FDEvent
	err       error
	timeout   time.Duration
	cancelled atomic.Bool
}

func (w *pendingWait) completed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// SelectorStats are counters describing a YieldingSelector's activity.
type SelectorStats struct {
	// Polls is the number of Select calls that did not defer.
	Polls uint64
	// Waits is the number of waits handed to the background worker.
	Waits uint64
	// Retired is the number of waits forced to return early, and discarded,
	// because the interest set changed or the notifier was removed.
	Retired uint64
	// Interrupts is the number of Interrupt calls.
	Interrupts uint64
}

// YieldingSelector is an [eventloop.Selector] that never blocks its caller
// while a notifier is installed. A Select with nothing ready and a positive
// timeout is handed to a single background worker, and [eventloop.WouldBlock]
// returned; the notifier is called (from the worker) once that wait
// completes, and the next Select returns its result.
//
// Without a notifier it behaves like the selector it wraps.
//
// All methods except Interrupt and Stats must be called from the goroutine
// that owns the selector.
type YieldingSelector struct { // betteralign:ignore
	inner    eventloop.Selector
	waker    *eventloop.Waker
	logger   *logiface.Logger[logiface.Event]
	workers  errgroup.Group
	interest map[int]eventloop.IOEvents
	notifier func()
	wait     *pendingWait
	closed   bool

	polls      atomic.Uint64
	waits      atomic.Uint64
	retired    atomic.Uint64
	interrupts atomic.Uint64
}

// NewYieldingSelector wraps inner, taking ownership of it.
func NewYieldingSelector(inner eventloop.Selector, logger *logiface.Logger[logiface.Event]) (*YieldingSelector, error) {
	if inner == nil {
		return nil, &eventloop.PreconditionError{Message: "bridge: nil selector"}
	}
	waker, err := eventloop.NewWaker()
	if err != nil {
		return nil, fmt.Errorf("bridge: create waker: %w", err)
	}
	if err := inner.Register(waker.FD(), eventloop.EventRead); err != nil {
		_ = waker.Close()
		return nil, fmt.Errorf("bridge: register waker: %w", err)
	}
	s := &YieldingSelector{
		inner:    inner,
		waker:    waker,
		logger:   logger,
		interest: make(map[int]eventloop.IOEvents),
	}
	s.workers.SetLimit(1)
	return s, nil
}

// Select implements [eventloop.Selector].
func (s *YieldingSelector) Select(timeout time.Duration) (eventloop.Poll, error) {
	if s.closed {
		return eventloop.Poll{}, eventloop.ErrSelectorClosed
	}

	if w := s.wait; w != nil {
		if !w.completed() {
			return eventloop.Poll{}, illegalState("bridge: select while a wait is outstanding", ErrSelectorBusy)
		}
		s.wait = nil
		if !w.cancelled.Load() {
			s.polls.Add(1)
			if w.err != nil {
				return eventloop.Poll{}, fmt.Errorf("bridge: background wait: %w", w.err)
			}
			return eventloop.Ready(s.filter(w.events)), nil
		}
		// retired early: poll again
	}

	if s.notifier == nil {
		return s.poll(timeout)
	}

	poll, err := s.poll(0)
	if err != nil || len(poll.Events()) != 0 || timeout <= 0 {
		return poll, err
	}

	s.submit(timeout)
	return eventloop.WouldBlock, nil
}

func (s *YieldingSelector) poll(timeout time.Duration) (eventloop.Poll, error) {
	poll, err := s.inner.Select(timeout)
	if err != nil {
		return poll, err
	}
	s.polls.Add(1)
	return eventloop.Ready(s.filter(poll.Events())), nil
}

func (s *YieldingSelector) submit(timeout time.Duration) {
	w := &pendingWait{
		done:    make(chan struct{}),
		timeout: timeout,
	}
	notify := s.notifier
	s.wait = w
	s.waits.Add(1)
	s.workers.Go(func() error {
		poll, err := s.inner.Select(timeout)
		w.events, w.err = poll.Events(), err
		close(w.done)
		notify()
		return nil
	})
}

// filter drops the internal waker (draining it) and any descriptor that is
// no longer registered, masking events to the current interest.
func (s *YieldingSelector) filter(events []eventloop.FDEvent) []eventloop.FDEvent {
	out := events[:0:0]
	for _, ev := range events {
		if ev.FD == s.waker.FD() {
			s.waker.Drain()
			continue
		}
		interest, ok := s.interest[ev.FD]
		if !ok {
			continue
		}
		if ev.Events &= interest | eventloop.EventError | eventloop.EventHangup; ev.Events != 0 {
			out = append(out, ev)
		}
	}
	return out
}

// retire forces an outstanding wait to return, and waits for it. Its result
// is discarded: descriptors that were ready are still ready (selectors are
// level-triggered), and are reported by the next poll.
func (s *YieldingSelector) retire() {
	w := s.wait
	if w == nil || w.completed() {
		return
	}
	w.cancelled.Store(true)
	s.Interrupt()
	<-w.done
	s.waker.Drain()
	s.retired.Add(1)
	s.logger.Debug().
		Dur("timeout", w.timeout).
		Log("retired background wait")
}

// Register implements [eventloop.Selector], retiring any outstanding wait first.
func (s *YieldingSelector) Register(fd int, events eventloop.IOEvents) error {
	if s.closed {
		return eventloop.ErrSelectorClosed
	}
	if fd == s.waker.FD() {
		return eventloop.ErrFDAlreadyRegistered
	}
	s.retire()
	if err := s.inner.Register(fd, events); err != nil {
		return err
	}
	s.interest[fd] = events
	return nil
}

// Unregister implements [eventloop.Selector], retiring any outstanding wait first.
func (s *YieldingSelector) Unregister(fd int) error {
	if s.closed {
		return eventloop.ErrSelectorClosed
	}
	if fd == s.waker.FD() {
		return eventloop.ErrFDNotRegistered
	}
	s.retire()
	delete(s.interest, fd)
	return s.inner.Unregister(fd)
}

// Modify implements [eventloop.Selector], retiring any outstanding wait first.
func (s *YieldingSelector) Modify(fd int, events eventloop.IOEvents) error {
	if s.closed {
		return eventloop.ErrSelectorClosed
	}
	if fd == s.waker.FD() {
		return eventloop.ErrFDNotRegistered
	}
	s.retire()
	if err := s.inner.Modify(fd, events); err != nil {
		return err
	}
	s.interest[fd] = events
	return nil
}

// Interrupt makes an outstanding wait return promptly. If there is none,
// the next poll returns promptly instead. Thread-safe.
func (s *YieldingSelector) Interrupt() {
	s.interrupts.Add(1)
	if err := s.waker.Wake(); err != nil {
		s.logger.Debug().Err(err).Log("interrupt failed")
	}
}

// SetNotifier installs fn, to be called from the worker whenever a
// deferred wait completes. A nil fn restores blocking behavior, first
// retiring any outstanding wait.
func (s *YieldingSelector) SetNotifier(fn func()) {
	if fn == nil {
		s.retire()
		s.wait = nil
	}
	s.notifier = fn
}

// Blocked reports whether a deferred wait is outstanding.
func (s *YieldingSelector) Blocked() bool {
	return s.wait != nil && !s.wait.completed()
}

// Stats returns a snapshot of the selector's counters. Thread-safe.
func (s *YieldingSelector) Stats() SelectorStats {
	return SelectorStats{
		Polls:      s.polls.Load(),
		Waits:      s.waits.Load(),
		Retired:    s.retired.Load(),
		Interrupts: s.interrupts.Load(),
	}
}

// Close releases the worker, the internal waker, and the wrapped selector.
// It fails while a wait is outstanding.
func (s *YieldingSelector) Close() error {
	if s.closed {
		return illegalState("bridge: selector already closed", eventloop.ErrSelectorClosed)
	}
	if s.Blocked() {
		return illegalState("bridge: close while a wait is outstanding", ErrSelectorBusy)
	}
	s.closed = true
	s.wait = nil
	s.notifier = nil
	_ = s.workers.Wait()
	_ = s.inner.Unregister(s.waker.FD())
	clear(s.interest)
	werr := s.waker.Close()
	if err := s.inner.Close(); err != nil {
		return err
	}
	return werr
}

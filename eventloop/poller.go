// Selectors report which registered file descriptors are ready, waiting up
// to a timeout. Platform-native implementations:
//   - Linux: epoll (poller_linux.go)
//   - Darwin/BSD: kqueue (poller_darwin.go)
//
// Selectors are level-triggered: a descriptor that is ready and not serviced
// is reported again by the next Select.
//
// Always unregister a file descriptor before closing it, to prevent stale
// event delivery due to FD recycling.

package eventloop

import (
	"errors"
	"math"
	"time"
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Forever is the Select timeout that waits without a deadline.
const Forever time.Duration = math.MaxInt64

// Standard errors.
var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
	ErrNoEvents            = errors.New("eventloop: no read or write interest")
)

// FDEvent reports the readiness of one registered file descriptor.
type FDEvent struct {
	FD     int
	Events IOEvents
}

// Poll is the result of [Selector.Select]: either the events that are
// ready now (possibly none), or [WouldBlock], meaning the wait was deferred
// and the caller must yield until notified.
type Poll struct {
	events     []FDEvent
	wouldBlock bool
}

// WouldBlock is the Poll returned by a selector that handed its wait to a
// background worker.
var WouldBlock = Poll{wouldBlock: true}

// Ready returns a Poll carrying events.
func Ready(events []FDEvent) Poll {
	return Poll{events: events}
}

// Blocked reports whether p is [WouldBlock].
func (p Poll) Blocked() bool {
	return p.wouldBlock
}

// Events returns the ready events; it is always empty for WouldBlock.
func (p Poll) Events() []FDEvent {
	return p.events
}

// Selector is the readiness polling capability used by [Loop].
//
// A timeout <= 0 must not wait; [Forever] waits without a deadline.
type Selector interface {
	Register(fd int, events IOEvents) error
	Unregister(fd int) error
	Modify(fd int, events IOEvents) error
	Select(timeout time.Duration) (Poll, error)
	Close() error
}

// NewDefaultSelector returns the platform-native selector.
func NewDefaultSelector() (Selector, error) {
	return newPlatformSelector()
}

// timeoutMillis converts a Select timeout to the millisecond form used by
// epoll_wait, rounding up sub-millisecond waits (a 0 < d < 1ms wait would
// otherwise spin).
func timeoutMillis(timeout time.Duration) int {
	switch {
	case timeout <= 0:
		return 0
	case timeout == Forever:
		return -1
	case timeout >= time.Duration(math.MaxInt32)*time.Millisecond:
		return math.MaxInt32
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}

func validEvents(events IOEvents) bool {
	return events&(EventRead|EventWrite) != 0
}

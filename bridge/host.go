package bridge

import (
	"sync/atomic"

	"github.com/joeycumines/go-embedloop/hostloop"
)

// Host is the capability required of the foreign event loop.
type Host interface {
	// Post queues fn to run on the host loop's dispatch goroutine, on a
	// later turn. It must be thread-safe, and must never run fn inline.
	Post(fn func())
	// RunNested dispatches host events until a code is received on exit,
	// returning that code. It is only called on the dispatch goroutine.
	RunNested(exit <-chan int) int
}

// ErrorReporter is an optional Host capability, used to surface fatal
// errors from an embedded scheduler, which has no caller to return them to.
// Without it, the error is panicked from the wake delivery.
type ErrorReporter interface {
	ReportError(err error)
}

// defaultHost returns the process-wide hostloop.Application, if any.
func defaultHost() Host {
	if app := hostloop.Instance(); app != nil {
		return app
	}
	return nil
}

// WakeChannel is a cross-goroutine signal, delivered to the host loop as an
// ordinary queued event. At most one delivery is queued at a time: raising
// again before it is dispatched does nothing.
//
// A WakeChannel belongs to a single run of a scheduler. Once uninstalled,
// raises are dropped. Deliveries that were already queued still reach the
// handler, which must ignore channels other than its current one.
type WakeChannel struct {
	host      Host
	handler   func(*WakeChannel)
	slot      chan struct{}
	installed atomic.Bool
}

// NewWakeChannel creates an installed WakeChannel, which calls handler on
// the host loop for each delivery.
func NewWakeChannel(host Host, handler func(*WakeChannel)) *WakeChannel {
	w := &WakeChannel{
		host:    host,
		handler: handler,
		slot:    make(chan struct{}, 1),
	}
	w.installed.Store(true)
	return w
}

// Raise queues a delivery, unless one is already queued. Thread-safe.
func (w *WakeChannel) Raise() {
	if !w.installed.Load() {
		return
	}
	select {
	case w.slot <- struct{}{}:
	default:
		return
	}
	w.host.Post(w.deliver)
}

// Installed reports whether deliveries are still being dispatched.
func (w *WakeChannel) Installed() bool {
	return w.installed.Load()
}

// Uninstall stops further raises. Thread-safe and idempotent.
func (w *WakeChannel) Uninstall() {
	w.installed.Store(false)
}

func (w *WakeChannel) deliver() {
	// free the slot first, so the handler may raise again
	select {
	case <-w.slot:
	default:
	}
	w.handler(w)
}

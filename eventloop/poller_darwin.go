//go:build darwin

package eventloop

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// MaxFDLimit is the maximum FD value accepted for registration.
const MaxFDLimit = 100000000

// KqueueSelector implements [Selector] using kqueue (Darwin).
type KqueueSelector struct { // betteralign:ignore
	eventBuf [256]unix.Kevent_t // Preallocated, only touched by Select
	fds      map[int]IOEvents   // Registered interest, by fd
	fdMu     sync.RWMutex       // Protects fds
	selectMu sync.Mutex         // Serializes use of eventBuf
	kq       int
	closed   atomic.Bool
}

// NewKqueueSelector creates a new kqueue instance.
func NewKqueueSelector() (*KqueueSelector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &KqueueSelector{
		kq:  kq,
		fds: make(map[int]IOEvents),
	}, nil
}

func newPlatformSelector() (Selector, error) {
	return NewKqueueSelector()
}

// Register starts monitoring fd for events.
func (p *KqueueSelector) Register(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}
	if fd < 0 || fd >= MaxFDLimit {
		return ErrFDOutOfRange
	}
	if !validEvents(events) {
		return ErrNoEvents
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	if _, err := unix.Kevent(p.kq, eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
		return err
	}
	p.fds[fd] = events
	return nil
}

// Unregister stops monitoring fd.
func (p *KqueueSelector) Unregister(fd int) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	events, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	_, _ = unix.Kevent(p.kq, eventsToKevents(fd, events, unix.EV_DELETE), nil, nil) // Ignore errors on delete
	return nil
}

// Modify replaces the monitored events for fd.
func (p *KqueueSelector) Modify(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}
	if !validEvents(events) {
		return ErrNoEvents
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	oldEvents, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	if del := eventsToKevents(fd, oldEvents&^events, unix.EV_DELETE); len(del) > 0 {
		_, _ = unix.Kevent(p.kq, del, nil, nil)
	}
	if add := eventsToKevents(fd, events&^oldEvents, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
		if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
			return err
		}
	}
	p.fds[fd] = events
	return nil
}

// Select waits up to timeout for registered descriptors to become ready.
func (p *KqueueSelector) Select(timeout time.Duration) (Poll, error) {
	if p.closed.Load() {
		return Poll{}, ErrSelectorClosed
	}

	p.selectMu.Lock()
	defer p.selectMu.Unlock()

	var ts *unix.Timespec
	if timeout != Forever {
		if timeout < 0 {
			timeout = 0
		}
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return Ready(nil), nil
		}
		return Poll{}, err
	}

	// kqueue reports read and write readiness as separate kevents
	merged := make(map[int]IOEvents, n)
	order := make([]int, 0, n)
	p.fdMu.RLock()
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		interest, ok := p.fds[fd]
		if !ok {
			continue
		}
		ev := keventToEvents(&p.eventBuf[i]) & (interest | EventError | EventHangup)
		if ev == 0 {
			continue
		}
		if _, seen := merged[fd]; !seen {
			order = append(order, fd)
		}
		merged[fd] |= ev
	}
	p.fdMu.RUnlock()

	events := make([]FDEvent, 0, len(order))
	for _, fd := range order {
		events = append(events, FDEvent{FD: fd, Events: merged[fd]})
	}
	return Ready(events), nil
}

// Close closes the kqueue instance. Subsequent calls return ErrSelectorClosed.
func (p *KqueueSelector) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrSelectorClosed
	}
	p.fdMu.Lock()
	clear(p.fds)
	p.fdMu.Unlock()
	return unix.Close(p.kq)
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

// keventToEvents converts kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}

//go:build linux

package eventloop

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// MaxFDLimit is the maximum FD value accepted for registration.
const MaxFDLimit = 100000000

// EpollSelector implements [Selector] using epoll (Linux).
//
// Registration and Select may be called from different goroutines, though
// callers that mutate the interest set while a Select is in flight get no
// guarantee about whether the in-flight Select observes the change.
type EpollSelector struct { // betteralign:ignore
	eventBuf [256]unix.EpollEvent // Preallocated, only touched by Select
	fds      map[int]IOEvents     // Registered interest, by fd
	fdMu     sync.RWMutex         // Protects fds
	selectMu sync.Mutex           // Serializes use of eventBuf
	epfd     int                  // epoll file descriptor
	closed   atomic.Bool
}

// NewEpollSelector creates a new epoll instance.
func NewEpollSelector() (*EpollSelector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollSelector{
		epfd: epfd,
		fds:  make(map[int]IOEvents),
	}, nil
}

func newPlatformSelector() (Selector, error) {
	return NewEpollSelector()
}

// Register starts monitoring fd for events.
func (p *EpollSelector) Register(fd int, events IOEvents) error {
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

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.fds[fd] = events
	return nil
}

// Unregister stops monitoring fd.
func (p *EpollSelector) Unregister(fd int) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)

	// the fd may already be closed, in which case the kernel dropped it
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return err
	}
	return nil
}

// Modify replaces the monitored events for fd.
func (p *EpollSelector) Modify(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrSelectorClosed
	}
	if !validEvents(events) {
		return ErrNoEvents
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return err
	}
	p.fds[fd] = events
	return nil
}

// Select waits up to timeout for registered descriptors to become ready.
// It never returns WouldBlock. EINTR is reported as an empty result.
func (p *EpollSelector) Select(timeout time.Duration) (Poll, error) {
	if p.closed.Load() {
		return Poll{}, ErrSelectorClosed
	}

	p.selectMu.Lock()
	defer p.selectMu.Unlock()

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return Ready(nil), nil
		}
		return Poll{}, err
	}
	if n == 0 {
		return Ready(nil), nil
	}

	events := make([]FDEvent, 0, n)
	p.fdMu.RLock()
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		interest, ok := p.fds[fd]
		if !ok {
			continue
		}
		ev := epollToEvents(p.eventBuf[i].Events) & (interest | EventError | EventHangup)
		if ev != 0 {
			events = append(events, FDEvent{FD: fd, Events: ev})
		}
	}
	p.fdMu.RUnlock()

	return Ready(events), nil
}

// Close closes the epoll instance. Subsequent calls return ErrSelectorClosed.
func (p *EpollSelector) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrSelectorClosed
	}
	p.fdMu.Lock()
	clear(p.fds)
	p.fdMu.Unlock()
	return unix.Close(p.epfd)
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

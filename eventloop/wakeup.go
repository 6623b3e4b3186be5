package eventloop

import (
	"encoding/binary"
	"sync/atomic"
)

// Waker is a self-interrupt primitive: a file descriptor that becomes
// readable when Wake is called, from any goroutine. Registering FD with a
// Selector lets another goroutine force an in-flight Select to return.
//
// Wake-ups are deduplicated until the next Drain.
type Waker struct {
	readFd  int
	writeFd int
	pending atomic.Uint32
	closed  atomic.Bool
}

// NewWaker creates a Waker backed by an eventfd (Linux) or a pipe (Darwin).
func NewWaker() (*Waker, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &Waker{readFd: r, writeFd: w}, nil
}

// FD returns the descriptor to register for EventRead.
func (w *Waker) FD() int {
	return w.readFd
}

// Wake makes FD readable. Safe to call concurrently, and after Close (in
// which case it does nothing and returns ErrSelectorClosed).
func (w *Waker) Wake() error {
	if w.closed.Load() {
		return ErrSelectorClosed
	}
	if !w.pending.CompareAndSwap(0, 1) {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := writeFD(w.writeFd, buf[:]); err != nil {
		w.pending.Store(0)
		return err
	}
	return nil
}

// Drain consumes any pending wake-up. The pending flag is cleared before
// reading, so a concurrent Wake is either consumed here or left readable.
func (w *Waker) Drain() {
	w.pending.Store(0)
	var buf [64]byte
	for {
		if _, err := readFD(w.readFd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the descriptors.
func (w *Waker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := closeFD(w.readFd)
	if w.writeFd != w.readFd {
		if err2 := closeFD(w.writeFd); err == nil {
			err = err2
		}
	}
	return err
}

package eventloop

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// signalState routes OS signals to handlers run on the loop. Signals are
// only captured while the loop is being driven (between Start and Finish).
type signalState struct {
	mu       sync.Mutex
	handlers map[os.Signal]func() error
	ch       chan os.Signal
	done     chan struct{}
	wg       sync.WaitGroup
	active   bool
}

func (s *signalState) init() {
	s.handlers = make(map[os.Signal]func() error)
	s.ch = make(chan os.Signal, 8)
}

// AddSignalHandler arranges for fn to be run on the loop whenever sig
// arrives while the loop is running, replacing any previous handler. A
// fatal error (see [IsFatal]) returned by fn unwinds out of the driver.
// Thread-safe.
func (l *Loop) AddSignalHandler(sig os.Signal, fn func() error) error {
	if sig == nil || fn == nil {
		return errors.New("eventloop: nil signal or handler")
	}
	if l.state.Load() == StateClosed {
		return ErrLoopClosed
	}
	s := &l.signals
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[sig] = fn
	if s.active {
		signal.Notify(s.ch, sig)
	}
	return nil
}

// RemoveSignalHandler removes the handler for sig, reporting whether there
// was one. Thread-safe.
func (l *Loop) RemoveSignalHandler(sig os.Signal) bool {
	s := &l.signals
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[sig]; !ok {
		return false
	}
	delete(s.handlers, sig)
	if s.active {
		signal.Stop(s.ch)
		s.notifyLocked()
	}
	return true
}

func (s *signalState) notifyLocked() {
	if len(s.handlers) == 0 {
		return
	}
	sigs := make([]os.Signal, 0, len(s.handlers))
	for sig := range s.handlers {
		sigs = append(sigs, sig)
	}
	signal.Notify(s.ch, sigs...)
}

func (s *signalState) start(l *Loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.done = make(chan struct{})
	s.notifyLocked()
	s.wg.Add(1)
	go s.forward(l, s.done)
}

func (s *signalState) forward(l *Loop, done <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-done:
			return
		case sig := <-s.ch:
			_ = l.Submit(func() error {
				s.mu.Lock()
				fn := s.handlers[sig]
				s.mu.Unlock()
				if fn == nil {
					return nil
				}
				return fn()
			})
		}
	}
}

func (s *signalState) stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	signal.Stop(s.ch)
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *signalState) close() {
	s.stop()
	s.mu.Lock()
	clear(s.handlers)
	s.mu.Unlock()
}

// exitCode follows the shell convention of 128 plus the signal number.
func exitCode(sig os.Signal) int {
	if n, ok := sig.(syscall.Signal); ok {
		return 128 + int(n)
	}
	return 1
}

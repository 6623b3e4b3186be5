package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(append([]LoopOption{WithErrorRateLimits(nil)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if loop.State() == StateIdle {
			_ = loop.Close()
		}
	})
	return loop
}

// runWithTimeout runs fn in its own goroutine, failing the test if it does
// not return in time.
func runWithTimeout(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v", timeout)
	}
}

func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// recordingSelector wraps a Selector, recording Select timeouts and
// optionally returning WouldBlock.
type recordingSelector struct {
	Selector
	mu         sync.Mutex
	timeouts   []time.Duration
	wouldBlock bool
}

func (s *recordingSelector) Select(timeout time.Duration) (Poll, error) {
	s.mu.Lock()
	s.timeouts = append(s.timeouts, timeout)
	block := s.wouldBlock
	s.mu.Unlock()
	if block {
		return WouldBlock, nil
	}
	return s.Selector.Select(timeout)
}

func (s *recordingSelector) lastTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timeouts) == 0 {
		return -1
	}
	return s.timeouts[len(s.timeouts)-1]
}

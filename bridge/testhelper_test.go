package bridge

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-embedloop/eventloop"
	"github.com/joeycumines/go-embedloop/hostloop"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testTimeout = 5 * time.Second

func newTestApp(t *testing.T) *hostloop.Application {
	t.Helper()
	app, err := hostloop.NewApplication()
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(append([]Option{
		WithLoopOptions(eventloop.WithErrorRateLimits(nil)),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if s.Mode() == ModeIdle {
			_ = s.Close()
		}
	})
	return s
}

// goAsync runs fn in a new goroutine, which typically becomes the host
// loop's dispatch goroutine.
func goAsync(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func awaitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for: %s", msg)
		}
		time.Sleep(time.Millisecond)
	}
}

// onHost runs fn on the host loop, waiting for it to complete.
func onHost(t *testing.T, app *hostloop.Application, fn func()) {
	t.Helper()
	done := make(chan struct{})
	app.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for host callback")
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

// fakeHost records posted callbacks, running them only on demand.
type fakeHost struct {
	mu     sync.Mutex
	posted []func()
}

func (h *fakeHost) Post(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posted = append(h.posted, fn)
}

func (h *fakeHost) RunNested(<-chan int) int { return 0 }

func (h *fakeHost) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.posted)
}

func (h *fakeHost) runAll() {
	h.mu.Lock()
	posted := h.posted
	h.posted = nil
	h.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
}

// countingSelector wraps a Selector, tracking concurrent and total Select
// calls, and optionally failing waits.
type countingSelector struct {
	eventloop.Selector
	active    atomic.Int32
	maxActive atomic.Int32
	selects   atomic.Int32
	failWaits error
}

func (s *countingSelector) Select(timeout time.Duration) (eventloop.Poll, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	s.selects.Add(1)
	if s.failWaits != nil && timeout > 0 {
		return eventloop.Poll{}, s.failWaits
	}
	return s.Selector.Select(timeout)
}

func newCountingSelector(t *testing.T) *countingSelector {
	t.Helper()
	inner, err := eventloop.NewDefaultSelector()
	require.NoError(t, err)
	return &countingSelector{Selector: inner}
}

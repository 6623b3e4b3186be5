package eventloop

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

func TestDefaultExceptionHandler_logs(t *testing.T) {
	var out syncBuffer
	loop := newTestLoop(t, WithLogger(newTestLogger(&out)))

	loop.CallExceptionHandler(ErrorContext{Err: errors.New("boom"), Message: "callback failed"})
	s := out.String()
	assert.Contains(t, s, `"lvl":"err"`)
	assert.Contains(t, s, `"err":"boom"`)
	assert.Contains(t, s, `"msg":"callback failed"`)
}

func TestDefaultExceptionHandler_panicStack(t *testing.T) {
	var out syncBuffer
	loop := newTestLoop(t, WithLogger(newTestLogger(&out)))
	loop.CallExceptionHandler(ErrorContext{Err: newPanicError("oops")})
	assert.Contains(t, out.String(), `"stack":`)
	assert.Contains(t, out.String(), "unhandled error in event loop")
}

func TestDefaultExceptionHandler_rateLimited(t *testing.T) {
	var out syncBuffer
	loop, err := New(
		WithLogger(newTestLogger(&out)),
		WithErrorRateLimits(map[time.Duration]int{time.Hour: 2}),
	)
	require.NoError(t, err)
	defer loop.Close()

	for range 5 {
		loop.CallExceptionHandler(ErrorContext{Err: errors.New("boom"), Message: "same"})
	}
	assert.Equal(t, 2, strings.Count(out.String(), `"msg":"same"`))
	assert.Equal(t, uint64(3), loop.suppressedErrors.Load())

	// other categories are limited separately, and carry the suppressed count
	loop.CallExceptionHandler(ErrorContext{Err: errors.New("boom"), Message: "other"})
	assert.Contains(t, out.String(), `"suppressed":"3"`)
	assert.Equal(t, uint64(0), loop.suppressedErrors.Load())
}

func TestCallExceptionHandler_panickingHandler(t *testing.T) {
	var out syncBuffer
	loop := newTestLoop(t,
		WithLogger(newTestLogger(&out)),
		WithExceptionHandler(func(*Loop, ErrorContext) { panic("handler") }),
	)
	loop.CallExceptionHandler(ErrorContext{Err: errors.New("boom")})
	assert.Contains(t, out.String(), "exception handler failed")
}

func TestDefaultExceptionHandler_nilLogger(t *testing.T) {
	loop := newTestLoop(t)
	assert.NotPanics(t, func() {
		loop.CallExceptionHandler(ErrorContext{Err: errors.New("boom")})
	})
}

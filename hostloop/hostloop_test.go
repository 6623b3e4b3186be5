package hostloop

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplication(t *testing.T, opts ...Option) *Application {
	t.Helper()
	app, err := NewApplication(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func execWithTimeout(t *testing.T, app *Application) int {
	t.Helper()
	code := make(chan int, 1)
	go func() { code <- app.Exec() }()
	select {
	case c := <-code:
		return c
	case <-time.After(5 * time.Second):
		app.Exit(-100)
		t.Fatal("Exec did not return")
		return 0
	}
}

func TestApplication_instance(t *testing.T) {
	require.Nil(t, Instance())
	app := newTestApplication(t)
	assert.Same(t, app, Instance())

	_, err := NewApplication()
	assert.ErrorIs(t, err, ErrInstanceExists)

	require.NoError(t, app.Close())
	assert.Nil(t, Instance())
	assert.ErrorIs(t, app.Close(), ErrClosed)
}

func TestApplication_postOrderAndExit(t *testing.T) {
	app := newTestApplication(t)
	var got []int
	for i := range 5 {
		app.Post(func() { got = append(got, i) })
	}
	app.Post(func() { app.Exit(7) })
	app.Post(func() { got = append(got, 99) })

	assert.Equal(t, 7, execWithTimeout(t, app))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got, "callbacks after Exit stay queued")
}

func TestApplication_postNeverInline(t *testing.T) {
	app := newTestApplication(t)
	var order []string
	app.Post(func() {
		app.Post(func() {
			order = append(order, "inner")
			app.Exit(0)
		})
		order = append(order, "outer")
	})
	execWithTimeout(t, app)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestApplication_postFromGoroutines(t *testing.T) {
	app := newTestApplication(t)
	const n = 100
	var (
		wg    sync.WaitGroup
		count int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.Post(func() {
				count++
				if count == n {
					app.Exit(0)
				}
			})
		}()
	}
	assert.Equal(t, 0, execWithTimeout(t, app))
	wg.Wait()
	assert.Equal(t, n, count)
}

func TestApplication_RunNested(t *testing.T) {
	app := newTestApplication(t)
	var trace []string
	app.Post(func() {
		exit := make(chan int, 1)
		app.Post(func() {
			trace = append(trace, "nested callback")
			assert.Equal(t, 2, app.Depth())
			exit <- 3
		})
		code := app.RunNested(exit)
		trace = append(trace, "nested returned")
		assert.Equal(t, 3, code)
		app.Exit(0)
	})
	assert.Equal(t, 0, execWithTimeout(t, app))
	assert.Equal(t, []string{"nested callback", "nested returned"}, trace)
	assert.Equal(t, 0, app.Depth())
}

func TestApplication_RunNested_withoutExec(t *testing.T) {
	app := newTestApplication(t)
	exit := make(chan int, 1)
	app.AfterFunc(5*time.Millisecond, func() { exit <- 1 })
	code := make(chan int, 1)
	go func() { code <- app.RunNested(exit) }()
	select {
	case c := <-code:
		assert.Equal(t, 1, c)
	case <-time.After(5 * time.Second):
		t.Fatal("RunNested did not return")
	}
}

func TestApplication_ExitUnwindsNested(t *testing.T) {
	app := newTestApplication(t)
	var nestedCode int
	app.Post(func() {
		app.Post(func() { app.Exit(4) })
		nestedCode = app.RunNested(make(chan int))
	})
	assert.Equal(t, 4, execWithTimeout(t, app))
	assert.Equal(t, 4, nestedCode)
}

func TestApplication_panicBarrier(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf))).Logger()
	app := newTestApplication(t, WithLogger(logger))
	var after bool
	app.Post(func() { panic("boom") })
	app.Post(func() {
		after = true
		app.Exit(0)
	})
	assert.Equal(t, 0, execWithTimeout(t, app))
	assert.True(t, after)
	assert.Contains(t, buf.String(), "panic in host loop callback")
	assert.Contains(t, buf.String(), `"panic":"boom"`)
}

func TestApplication_ReportError(t *testing.T) {
	app := newTestApplication(t)
	boom := errors.New("boom")
	app.Post(func() { app.ReportError(boom) })
	assert.Equal(t, 1, execWithTimeout(t, app))
	assert.ErrorIs(t, app.Err(), boom)
}

func TestApplication_execAgain(t *testing.T) {
	app := newTestApplication(t)
	app.Post(func() { app.Exit(1) })
	assert.Equal(t, 1, execWithTimeout(t, app))
	app.Post(func() { app.Exit(2) })
	assert.Equal(t, 2, execWithTimeout(t, app))
}

func TestApplication_closed(t *testing.T) {
	app, err := NewApplication(WithLogger((*logiface.Logger[logiface.Event])(nil)))
	require.NoError(t, err)
	require.NoError(t, app.Close())
	app.Post(func() { t.Error("posted after close") })
	assert.Equal(t, -1, app.Exec())
}

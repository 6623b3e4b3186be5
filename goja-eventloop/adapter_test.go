package gojaeventloop

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-embedloop/bridge"
	"github.com/joeycumines/go-embedloop/eventloop"
	"github.com/joeycumines/go-embedloop/hostloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	app     *hostloop.Application
	s       *bridge.Scheduler
	adapter *Adapter
	rt      *goja.Runtime
	log     []string
	handled []error
}

func newHarness(t *testing.T, opts ...bridge.Option) *harness {
	t.Helper()
	app, err := hostloop.NewApplication()
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	h := &harness{app: app}
	h.s, err = bridge.New(append([]bridge.Option{
		bridge.WithLoopOptions(
			eventloop.WithErrorRateLimits(nil),
			eventloop.WithExceptionHandler(func(_ *eventloop.Loop, ctx eventloop.ErrorContext) {
				h.handled = append(h.handled, ctx.Err)
			}),
		),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.s.Close() })

	h.rt = goja.New()
	h.adapter, err = New(h.s, h.rt)
	require.NoError(t, err)
	require.NoError(t, h.adapter.Bind())
	require.NoError(t, h.rt.Set("record", func(v string) { h.log = append(h.log, v) }))
	require.NoError(t, h.rt.Set("done", func() { h.s.Stop() }))
	return h
}

// run runs src on the scheduler, until the script calls done.
func (h *harness) run(t *testing.T, src string) error {
	t.Helper()
	var scriptErr error
	_, err := h.s.ScheduleNow(func() error {
		if _, scriptErr = h.adapter.RunString(src); scriptErr != nil {
			h.s.Stop()
		}
		return nil
	})
	require.NoError(t, err)

	ch := make(chan error, 1)
	go func() { ch <- h.s.RunForever() }()
	select {
	case err := <-ch:
		return errors.Join(err, scriptErr)
	case <-time.After(5 * time.Second):
		t.Fatal("script did not finish")
		return nil
	}
}

func TestNew_nil(t *testing.T) {
	_, err := New(nil, goja.New())
	assert.Error(t, err)
	s, err := bridge.New()
	require.NoError(t, err)
	defer s.Close()
	_, err = New(s, nil)
	assert.Error(t, err)
}

func TestAdapter_ordering(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, `
		setTimeout(() => record("t20"), 20);
		setTimeout(() => record("t5"), 5);
		setTimeout(() => { record("end"); done(); }, 40);
		setImmediate(() => record("immediate"));
		queueMicrotask(() => record("micro"));
		record("sync");
	`))
	assert.Equal(t, []string{"sync", "micro", "immediate", "t5", "t20", "end"}, h.log)
	assert.Zero(t, h.adapter.Pending())
}

func TestAdapter_clear(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, `
		clearTimeout(setTimeout(() => record("timeout"), 5));
		clearImmediate(setImmediate(() => record("immediate")));
		clearTimeout(12345);
		setTimeout(() => { record("end"); done(); }, 20);
	`))
	assert.Equal(t, []string{"end"}, h.log)
	assert.Zero(t, h.adapter.Pending())
}

func TestAdapter_setInterval(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, `
		let n = 0;
		const id = setInterval(() => {
			record("tick" + (++n));
			if (n === 3) {
				clearInterval(id);
				setTimeout(done, 15);
			}
		}, 2);
	`))
	assert.Equal(t, []string{"tick1", "tick2", "tick3"}, h.log)
	assert.Zero(t, h.adapter.Pending())
}

func TestAdapter_arguments(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, `
		setImmediate((a) => record("i" + a), 1);
		setTimeout((a, b) => { record(a + b); done(); }, 0, "x", "y");
	`))
	assert.Equal(t, []string{"i1", "xy"}, h.log)
}

func TestAdapter_typeErrors(t *testing.T) {
	h := newHarness(t)
	for _, src := range []string{
		`setTimeout(1)`,
		`setTimeout()`,
		`setInterval(() => {}, -1)`,
		`setImmediate("nope")`,
		`queueMicrotask(null)`,
	} {
		_, err := h.adapter.RunString(src)
		var exc *goja.Exception
		if assert.ErrorAs(t, err, &exc, src) {
			assert.Contains(t, exc.Error(), "TypeError", src)
		}
	}
	assert.Zero(t, h.adapter.Pending())
}

func TestAdapter_callbackErrorIsHandled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, `
		setTimeout(() => { throw new Error("kaboom"); }, 0);
		setTimeout(() => { record("after"); done(); }, 10);
	`))
	assert.Equal(t, []string{"after"}, h.log)
	require.Len(t, h.handled, 1)
	assert.Contains(t, h.handled[0].Error(), "kaboom")
}

func TestAdapter_microtasks(t *testing.T) {
	h := newHarness(t)
	_, err := h.adapter.RunString(`
		queueMicrotask(() => {
			record("m1");
			queueMicrotask(() => record("m2"));
		});
		record("sync");
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{"sync", "m1", "m2"}, h.log)
}

func TestAdapter_promises(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, `
		Promise.resolve(1).then(v => record("p" + v));
		new Promise(resolve => setTimeout(() => resolve(2), 5))
			.then(v => { record("p" + v); done(); });
	`))
	assert.Equal(t, []string{"p1", "p2"}, h.log)
}

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

func TestAdapter_console(t *testing.T) {
	var out syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&out), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	h := newHarness(t, bridge.WithLogger(logger))

	_, err := h.adapter.RunString(`console.log("hello", 1); console.error("bad")`)
	require.NoError(t, err)
	s := out.String()
	assert.Contains(t, s, `"msg":"hello 1"`)
	assert.Contains(t, s, `"msg":"bad"`)
	assert.Contains(t, s, `"source":"console"`)
}

func TestAdapter_embedded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.rt.Set("exit", func(code int) { h.app.Exit(code) }))

	ch := make(chan error, 1)
	go func() {
		ch <- bridge.Using(h.s, func() error {
			if _, err := h.adapter.RunString(`
				var n = 0;
				const id = setInterval(() => {
					if (++n === 5) {
						clearInterval(id);
						exit(0);
					}
				}, 1);
			`); err != nil {
				return err
			}
			if code := h.app.Exec(); code != 0 {
				return errors.New("unexpected exit code")
			}
			return nil
		})
	}()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host loop did not exit")
	}
	v := h.rt.Get("n")
	require.NotNil(t, v)
	assert.EqualValues(t, 5, v.ToInteger())
}

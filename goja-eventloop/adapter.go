// Copyright 2025 Joseph Cumines
//
// goja-eventloop: Goja adapter for the embedded scheduler
//
// This binds JavaScript timer globals to a bridge.Scheduler.

// Package gojaeventloop binds the standard JavaScript timer globals of a
// [goja.Runtime] to a [bridge.Scheduler], so scripts can run inside a host
// loop (a GUI toolkit's, or [hostloop.Application]) without blocking it.
//
// # Binding the Adapter
//
//	s, _ := bridge.New()
//	runtime := goja.New()
//
//	adapter, err := gojaeventloop.New(s, runtime)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := adapter.Bind(); err != nil {
//	    log.Fatal(err)
//	}
//
//	_, _ = s.ScheduleNow(func() error {
//	    _, err := adapter.RunString(`setTimeout(() => console.log("Hello!"), 100)`)
//	    return err
//	})
//
// # Thread Safety
//
// Neither the goja runtime nor the scheduler's scheduling methods are
// thread-safe. JavaScript callbacks run on the host loop's dispatch
// goroutine, and the runtime must only be used from there, e.g. from a
// callback passed to [bridge.Scheduler.ScheduleNow], or via
// [bridge.Scheduler.Submit] from other goroutines.
//
// # Available JavaScript Globals
//
//   - setTimeout(callback, delay?, ...args) → timer ID
//   - clearTimeout(id) → undefined
//   - setInterval(callback, delay?, ...args) → timer ID
//   - clearInterval(id) → undefined
//   - setImmediate(callback, ...args) → timer ID
//   - clearImmediate(id) → undefined
//   - queueMicrotask(callback) → undefined
//   - console.log / console.warn / console.error, written to the scheduler's logger
//
// Microtasks run once the current callback (or RunString) returns, before
// any other scheduled work. Exceptions thrown by callbacks are returned to
// the scheduler, which reports them to the loop's exception handler.
package gojaeventloop

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-embedloop/bridge"
	"github.com/joeycumines/logiface"
)

// Adapter binds timer globals in a goja runtime to a scheduler.
type Adapter struct {
	scheduler   *bridge.Scheduler
	runtime     *goja.Runtime
	logger      *logiface.Logger[logiface.Event]
	timers      map[uint64]func()
	microtasks  []goja.Callable
	nextID      uint64
	drainQueued bool
}

// New creates a new Goja adapter for the given scheduler and runtime.
func New(scheduler *bridge.Scheduler, runtime *goja.Runtime) (*Adapter, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if runtime == nil {
		return nil, fmt.Errorf("runtime cannot be nil")
	}
	return &Adapter{
		scheduler: scheduler,
		runtime:   runtime,
		logger:    scheduler.Loop().Logger(),
		timers:    make(map[uint64]func()),
	}, nil
}

// Scheduler returns the scheduler
func (a *Adapter) Scheduler() *bridge.Scheduler {
	return a.scheduler
}

// Runtime returns the Goja runtime
func (a *Adapter) Runtime() *goja.Runtime {
	return a.runtime
}

// Pending returns the number of timers and immediates that have not yet
// fired or been cleared.
func (a *Adapter) Pending() int {
	return len(a.timers)
}

// Bind creates the timer globals, and a console, in the runtime's global
// scope. It must be called before running scripts that use them.
func (a *Adapter) Bind() error {
	registry := new(require.Registry)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{a.logger}))
	registry.Enable(a.runtime)
	console.Enable(a.runtime)

	return errors.Join(
		a.runtime.Set("setTimeout", a.setTimeout),
		a.runtime.Set("clearTimeout", a.clearTimer),
		a.runtime.Set("setInterval", a.setInterval),
		a.runtime.Set("clearInterval", a.clearTimer),
		a.runtime.Set("setImmediate", a.setImmediate),
		a.runtime.Set("clearImmediate", a.clearTimer),
		a.runtime.Set("queueMicrotask", a.queueMicrotask),
	)
}

// RunString runs a script, then any microtasks it queued. It must be called
// on the host loop's dispatch goroutine.
func (a *Adapter) RunString(src string) (goja.Value, error) {
	v, err := a.runtime.RunString(src)
	return v, errors.Join(err, a.drainMicrotasks())
}

func (a *Adapter) setTimeout(call goja.FunctionCall) goja.Value {
	return a.setTimer(call, "setTimeout", false)
}

func (a *Adapter) setInterval(call goja.FunctionCall) goja.Value {
	return a.setTimer(call, "setInterval", true)
}

func (a *Adapter) setTimer(call goja.FunctionCall, name string, repeat bool) goja.Value {
	fn := a.callable(call.Argument(0), name)

	delayMs := call.Argument(1).ToInteger()
	if delayMs < 0 {
		panic(a.runtime.NewTypeError("delay cannot be negative"))
	}
	delay := time.Duration(delayMs) * time.Millisecond
	args := trailing(call, 2)

	id := a.newID()
	var arm func() error
	arm = func() error {
		h, err := a.scheduler.ScheduleAfter(delay, func() error {
			if _, ok := a.timers[id]; !ok {
				return nil
			}
			if !repeat {
				delete(a.timers, id)
			}
			err := a.invoke(fn, args)
			// re-armed unless cleared by the callback
			if _, ok := a.timers[id]; ok && repeat {
				err = errors.Join(err, arm())
			}
			return err
		})
		if err != nil {
			delete(a.timers, id)
			return err
		}
		a.timers[id] = h.Cancel
		return nil
	}
	if err := arm(); err != nil {
		panic(a.runtime.NewGoError(err))
	}

	return a.runtime.ToValue(id)
}

func (a *Adapter) setImmediate(call goja.FunctionCall) goja.Value {
	fn := a.callable(call.Argument(0), "setImmediate")
	args := trailing(call, 1)

	id := a.newID()
	h, err := a.scheduler.ScheduleNow(func() error {
		if _, ok := a.timers[id]; !ok {
			return nil
		}
		delete(a.timers, id)
		return a.invoke(fn, args)
	})
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}
	a.timers[id] = h.Cancel

	return a.runtime.ToValue(id)
}

// clearTimer binding for clearTimeout, clearInterval and clearImmediate.
func (a *Adapter) clearTimer(call goja.FunctionCall) goja.Value {
	id := uint64(call.Argument(0).ToInteger())
	if cancel, ok := a.timers[id]; ok {
		delete(a.timers, id)
		cancel()
	}
	// unknown ids are ignored, matching browser behavior
	return goja.Undefined()
}

func (a *Adapter) queueMicrotask(call goja.FunctionCall) goja.Value {
	fn := a.callable(call.Argument(0), "queueMicrotask")
	a.microtasks = append(a.microtasks, fn)
	if !a.drainQueued {
		// covers microtasks queued outside of a callback
		if _, err := a.scheduler.ScheduleNow(func() error {
			a.drainQueued = false
			return a.drainMicrotasks()
		}); err != nil {
			panic(a.runtime.NewGoError(err))
		}
		a.drainQueued = true
	}
	return goja.Undefined()
}

func (a *Adapter) invoke(fn goja.Callable, args []goja.Value) error {
	_, err := fn(goja.Undefined(), args...)
	return errors.Join(err, a.drainMicrotasks())
}

// drainMicrotasks runs queued microtasks, including any they queue.
func (a *Adapter) drainMicrotasks() error {
	var errs []error
	for len(a.microtasks) != 0 {
		fn := a.microtasks[0]
		a.microtasks[0] = nil
		a.microtasks = a.microtasks[1:]
		if _, err := fn(goja.Undefined()); err != nil {
			errs = append(errs, err)
		}
	}
	a.microtasks = nil
	return errors.Join(errs...)
}

func (a *Adapter) callable(fn goja.Value, name string) goja.Callable {
	if fn == nil || fn.Export() == nil {
		panic(a.runtime.NewTypeError(name + " requires a function as first argument"))
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		panic(a.runtime.NewTypeError(name + " requires a function as first argument"))
	}
	return callable
}

func (a *Adapter) newID() uint64 {
	a.nextID++
	return a.nextID
}

func trailing(call goja.FunctionCall, from int) []goja.Value {
	if len(call.Arguments) <= from {
		return nil
	}
	return append([]goja.Value(nil), call.Arguments[from:]...)
}

// consolePrinter writes console output to a logger.
type consolePrinter struct {
	logger *logiface.Logger[logiface.Event]
}

func (p consolePrinter) Log(s string) {
	p.logger.Info().Str("source", "console").Log(s)
}

func (p consolePrinter) Warn(s string) {
	p.logger.Warning().Str("source", "console").Log(s)
}

func (p consolePrinter) Error(s string) {
	p.logger.Err().Str("source", "console").Log(s)
}

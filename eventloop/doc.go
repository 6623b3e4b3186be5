// Package eventloop provides a single-threaded cooperative scheduler for Go:
// ready callbacks, timers, I/O readiness callbacks, futures, and
// coroutine-style tasks, multiplexed through a pluggable [Selector].
//
// # Architecture
//
// A [Loop] is driven one iteration at a time by [Loop.RunOnce]. Each
// iteration polls the selector (without waiting if work is ready, otherwise
// until the next timer), queues the callbacks of ready descriptors and
// expired timers, then runs the batch that was ready at that point.
//
// The selector may decline to wait, by returning [WouldBlock]. The iteration
// then returns [StepBlocked] having run nothing, and it is up to the driver
// to call RunOnce again once the selector signals that its deferred wait has
// completed. This is what allows the loop to be embedded in another event
// loop, see the bridge package. [Loop.RunForever] is the standalone driver,
// and treats WouldBlock as an error.
//
// # Thread Safety
//
// A Loop is owned by the goroutine that called [Loop.Start]. Only
// [Loop.Submit], [Loop.Stop], [Loop.Stopping], [Loop.State], and signal
// handler registration are thread-safe. [Loop.Submit] wakes a waiting
// selector via the loop's [Waker].
//
// # Errors
//
// Errors returned (or panicked) by callbacks are passed to the loop's
// [ExceptionHandler], which logs them by default, rate limited. Interrupts
// ([ErrInterrupted]) and exit requests ([*ExitError]) are fatal: they stop
// the iteration and are returned by the driver, see [IsFatal].
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - macOS: kqueue
//   - Linux: epoll
package eventloop

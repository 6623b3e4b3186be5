// Package bridge runs an [eventloop.Loop] inside a foreign, run-to-completion
// host event loop (a GUI toolkit's, or [hostloop.Application]) that it does
// not own.
//
// # Architecture
//
// Three pieces cooperate:
//
//   - [WakeChannel] turns a raise, from any goroutine, into a queued event on
//     the host loop. At most one delivery is queued at a time.
//   - [YieldingSelector] wraps a blocking selector. Instead of waiting on the
//     host's goroutine, it polls without waiting, and if nothing is ready it
//     hands the wait to a single background worker and returns
//     [eventloop.WouldBlock]. The worker raises the WakeChannel on completion.
//   - [Scheduler] performs exactly one loop iteration per wake, then yields
//     back to the host, re-raising the WakeChannel unless the iteration
//     deferred its wait.
//
// Scheduling work or changing I/O interest while a background wait is
// outstanding forces it to return early, so the next iteration observes the
// change promptly.
//
// # Running
//
// [Scheduler.RunForever] runs a nested host loop until [Scheduler.Stop]
// (standalone use). To ride a host loop the caller already runs, use
// [Using], which installs the scheduler as the goroutine's [Current] one:
//
//	app, _ := hostloop.NewApplication()
//	s, _ := bridge.New()
//	err := bridge.Using(s, func() error {
//		if code := app.Exec(); code != 0 {
//			return fmt.Errorf("exit code %d", code)
//		}
//		return nil
//	})
//
// # Errors
//
// Ordinary callback errors are handled by the loop's exception handler, and
// never leave the step. Fatal errors (see [eventloop.IsFatal]) end the run:
// a nested run returns them from RunForever, and an embedded run reports
// them to the host (if it implements [ErrorReporter]) and returns them from
// Using.
package bridge

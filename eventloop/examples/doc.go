// Package examples contains runnable example programs demonstrating
// the eventloop package functionality.
//
// # Examples
//
// The examples directory contains the following subdirectories:
//
//   - 01_basic_usage: Fundamental event loop operations
//   - 02_tasks: Futures, tasks and cancellation
//   - 03_timers: Timer patterns including debouncing
//   - 04_shutdown: Stop, fatal errors and interrupt handling
//
// # Running Examples
//
// Each example can be run from the eventloop directory:
//
//	go run ./examples/01_basic_usage/
//	go run ./examples/02_tasks/
//	go run ./examples/03_timers/
//	go run ./examples/04_shutdown/
//
// To run the loop inside a host event loop, see the bridge package and its
// stopwatch example.
package examples

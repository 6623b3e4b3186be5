// Example: Shutdown Handling
//
// This example demonstrates shutdown patterns:
// - Stop from another goroutine
// - Fatal errors, which unwind out of RunForever
// - Interrupt signals (Ctrl+C)
//
// Run with: go run ./examples/04_shutdown/
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-embedloop/eventloop"
)

func main() {
	// Run different shutdown scenarios
	stopExample()
	fatalErrorExample()
	interruptExample()
}

func stopExample() {
	fmt.Println("\n=== Stop ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	_, _ = loop.ScheduleAfter(50*time.Millisecond, func() error {
		fmt.Println("Task 1: Complete")
		return nil
	})

	// Stop is thread-safe
	go func() {
		time.Sleep(100 * time.Millisecond)
		fmt.Println("Stopping...")
		loop.Stop()
	}()

	if err := loop.RunForever(); err != nil {
		fmt.Printf("Loop exited: %v\n", err)
	}
	fmt.Println("Stopped")
}

func fatalErrorExample() {
	fmt.Println("\n=== Fatal Errors ===")

	loop, _ := eventloop.New()
	defer loop.Close()

	_, _ = loop.ScheduleNow(func() error {
		// ordinary errors are logged, and the loop continues
		return errors.New("something went wrong")
	})
	_, _ = loop.ScheduleAfter(20*time.Millisecond, func() error {
		return &eventloop.ExitError{Code: 3}
	})
	_, _ = loop.ScheduleAfter(40*time.Millisecond, func() error {
		fmt.Println("Resumed after the fatal error")
		loop.Stop()
		return nil
	})

	err := loop.RunForever()
	var exitErr *eventloop.ExitError
	if errors.As(err, &exitErr) {
		fmt.Printf("Loop exited with code %d\n", exitErr.Code)
	}

	// callbacks that did not run are still queued
	_ = loop.RunForever()
}

func interruptExample() {
	fmt.Println("\n=== Interrupt ===")

	loop, _ := eventloop.New(eventloop.WithInterruptSignals(os.Interrupt))
	defer loop.Close()

	fmt.Println("Press Ctrl+C within 2s...")
	_, _ = loop.ScheduleAfter(2*time.Second, func() error {
		fmt.Println("No interrupt received")
		loop.Stop()
		return nil
	})

	if err := loop.RunForever(); errors.Is(err, eventloop.ErrInterrupted) {
		fmt.Println("Interrupted")
	}
}

// Example: Basic Event Loop Usage
//
// This example demonstrates the fundamental usage of the event loop:
// - Creating a loop
// - Scheduling callbacks and timers
// - Submitting work from another goroutine
// - Running the loop until Stop
//
// Run with: go run ./examples/01_basic_usage/
package main

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-embedloop/eventloop"
)

func main() {
	// Create a new event loop
	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	// Method 1: Schedule a callback for the next iteration
	_, _ = loop.ScheduleNow(func() error {
		fmt.Println("Callback: Runs on the first iteration")
		return nil
	})

	// Method 2: Schedule a timer
	_, _ = loop.ScheduleAfter(100*time.Millisecond, func() error {
		fmt.Println("Timer: Fires after 100ms")
		return nil
	})

	// Method 3: Submit from another goroutine (thread-safe)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = loop.Submit(func() error {
			fmt.Println("Submit: Woke the loop from another goroutine")
			return nil
		})
	}()

	// A self-rescheduling timer, stopping after three ticks
	count := 0
	var tick func() error
	tick = func() error {
		count++
		fmt.Printf("Tick %d\n", count)
		if count == 3 {
			loop.Stop()
			return nil
		}
		_, err := loop.ScheduleAfter(150*time.Millisecond, tick)
		return err
	}
	_, _ = loop.ScheduleAfter(150*time.Millisecond, tick)

	// Run the loop (blocks until Stop)
	if err := loop.RunForever(); err != nil {
		fmt.Printf("Loop exited with: %v\n", err)
	}
	fmt.Println("Done!")
}

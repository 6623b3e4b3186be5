// Example: Timer Patterns
//
// This example demonstrates timer usage patterns:
// - One-shot timers, fired in deadline order
// - Timer cancellation
// - Self-rescheduling (interval) timers
// - Debouncing
//
// Run with: go run ./examples/03_timers/
package main

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-embedloop/eventloop"
)

func main() {
	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}
	defer loop.Close()

	// Example 1: Basic timers
	basicTimerExample(loop)

	// Example 2: Timer cancellation
	cancellationExample(loop)

	// Example 3: Self-clearing interval
	intervalExample(loop)

	// Example 4: Debounce pattern
	debounceExample(loop)

	// Stop after examples
	_, _ = loop.ScheduleAfter(1200*time.Millisecond, func() error {
		loop.Stop()
		return nil
	})

	if err := loop.RunForever(); err != nil {
		fmt.Printf("Loop exited with: %v\n", err)
	}
}

func basicTimerExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Basic Timers ===")

	start := time.Now()
	for _, tc := range []struct {
		name  string
		delay time.Duration
	}{
		{"A", 100 * time.Millisecond},
		{"B", 50 * time.Millisecond},
		{"C", 150 * time.Millisecond},
	} {
		_, _ = loop.ScheduleAfter(tc.delay, func() error {
			fmt.Printf("Timer %s: fired at %v\n", tc.name, time.Since(start).Round(time.Millisecond))
			return nil
		})
	}

	// Order: B (50ms), A (100ms), C (150ms)
}

func cancellationExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Timer Cancellation ===")

	h, _ := loop.ScheduleAfter(300*time.Millisecond, func() error {
		fmt.Println("This should NOT print")
		return nil
	})

	// Cancel it before it fires
	_, _ = loop.ScheduleAfter(200*time.Millisecond, func() error {
		h.Cancel()
		fmt.Printf("Timer due at %v cancelled\n", h.When().Format(time.StampMilli))
		return nil
	})
}

func intervalExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Self-Clearing Interval ===")

	count := 0
	var tick func() error
	tick = func() error {
		count++
		fmt.Printf("Interval tick %d\n", count)
		if count >= 3 {
			fmt.Println("Interval stopped itself")
			return nil
		}
		_, err := loop.ScheduleAfter(100*time.Millisecond, tick)
		return err
	}
	_, _ = loop.ScheduleAfter(100*time.Millisecond, tick)
}

func debounceExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Debounce Pattern ===")

	// Debounce: only execute after no new calls for the specified duration
	var pending *eventloop.TimerHandle
	debounce := func(fn func() error, delay time.Duration) func() {
		return func() {
			if pending != nil {
				pending.Cancel()
			}
			pending, _ = loop.ScheduleAfter(delay, fn)
		}
	}

	debouncedSave := debounce(func() error {
		fmt.Println("Debounced: Save executed!")
		return nil
	}, 200*time.Millisecond)

	// Simulate rapid calls (like typing)
	for i, at := range []time.Duration{400, 450, 500} {
		_, _ = loop.ScheduleAfter(at*time.Millisecond, func() error {
			fmt.Printf("Call %d\n", i+1)
			debouncedSave()
			return nil
		})
	}

	// Only one "Save executed!" after 200ms from last call
}

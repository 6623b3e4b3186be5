// Example: Futures and Tasks
//
// This example demonstrates asynchronous patterns:
// - Futures settled by callbacks
// - Tasks awaiting futures, interleaving at await points
// - Cancellation
// - Running until a future completes
//
// Run with: go run ./examples/02_tasks/
package main

import (
	"context"
	"errors"
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

	futureExample(loop)
	interleaveExample(loop)
	cancellationExample(loop)
}

func futureExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Futures ===")

	f := loop.NewFuture()
	f.AddDoneCallback(func(f *eventloop.Future) {
		v, err := f.Result()
		fmt.Printf("Done callback: %v (err=%v)\n", v, err)
	})
	_, _ = loop.ScheduleAfter(50*time.Millisecond, func() error {
		return f.SetResult("hello")
	})

	v, err := loop.RunUntilComplete(f)
	fmt.Printf("RunUntilComplete: %v (err=%v)\n", v, err)
}

func interleaveExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Interleaved Tasks ===")

	worker := func(name string, delay time.Duration) eventloop.TaskFunc {
		return func(_ context.Context, await eventloop.Await) (any, error) {
			for i := range 3 {
				fmt.Printf("%s: step %d\n", name, i)
				if _, err := await(loop.Sleep(delay)); err != nil {
					return nil, err
				}
			}
			return name + " finished", nil
		}
	}

	fast, _ := loop.CreateTask(worker("fast", 10*time.Millisecond))
	slow, _ := loop.CreateTask(worker("slow", 25*time.Millisecond))

	collect, _ := loop.CreateTask(func(_ context.Context, await eventloop.Await) (any, error) {
		var results []any
		for _, task := range []*eventloop.Task{fast, slow} {
			v, err := await(&task.Future)
			if err != nil {
				return nil, err
			}
			results = append(results, v)
		}
		return results, nil
	})

	v, err := loop.RunUntilComplete(&collect.Future)
	fmt.Printf("Results: %v (err=%v)\n", v, err)
}

func cancellationExample(loop *eventloop.Loop) {
	fmt.Println("\n=== Cancellation ===")

	task, _ := loop.CreateTask(func(ctx context.Context, await eventloop.Await) (any, error) {
		_, err := await(loop.Sleep(time.Hour))
		fmt.Printf("Task woke: %v (ctx=%v)\n", err, ctx.Err())
		return nil, err
	})
	_, _ = loop.ScheduleAfter(50*time.Millisecond, func() error {
		fmt.Println("Cancelling task...")
		task.Cancel()
		return nil
	})

	_, err := loop.RunUntilComplete(&task.Future)
	fmt.Printf("Task cancelled: %v\n", errors.Is(err, eventloop.ErrCancelled))
}

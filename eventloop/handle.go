package eventloop

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// Handle is a scheduled callback, returned by the Schedule* methods.
type Handle struct {
	fn        func() error
	cancelled atomic.Bool
}

// Cancel prevents the callback from running, if it has not already run.
// Safe to call from any goroutine.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// TimerHandle is a callback scheduled for a point in time.
type TimerHandle struct {
	Handle
	when  time.Time
	loop  *Loop
	index  int // heap index, -1 once popped
	queued atomic.Bool
}

// When returns the time the callback is scheduled for.
func (t *TimerHandle) When() time.Time {
	return t.when
}

// Cancel prevents the callback from running, if it has not already run.
// Only timers still in the heap count towards compaction.
func (t *TimerHandle) Cancel() {
	if !t.cancelled.Swap(true) && t.loop != nil && t.queued.Load() {
		t.loop.timerCancelled.Add(1)
	}
}

// timerHeap is a min-heap of timers
type timerHeap []*TimerHandle

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*TimerHandle)
	t.index = len(*h)
	t.queued.Store(true)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	x.queued.Store(false)
	*h = old[:n-1]
	return x
}

func (h timerHeap) peek() *TimerHandle {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// compact drops cancelled timers and restores the heap invariant, returning
// the number removed.
func (h *timerHeap) compact() int {
	old := *h
	kept := old[:0]
	for _, t := range old {
		if t.Cancelled() {
			t.index = -1
			t.queued.Store(false)
			continue
		}
		kept = append(kept, t)
	}
	removed := len(old) - len(kept)
	clear(old[len(kept):])
	*h = kept
	for i, t := range kept {
		t.index = i
	}
	heap.Init(h)
	return removed
}

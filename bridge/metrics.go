package bridge

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of a Scheduler's activity, see [Scheduler.Metrics].
type Metrics struct {
	// Selector holds the YieldingSelector's counters.
	Selector SelectorStats

	// StepLatency is the distribution of time spent in each step, i.e. the
	// time the host loop was held by the scheduler per wake.
	StepLatency LatencySnapshot

	// Steps is the number of wake deliveries that ran a step.
	Steps uint64
	// BlockedSteps is the number of steps that ended logically blocked.
	BlockedSteps uint64
	// StaleWakes is the number of deliveries ignored because they belonged
	// to a previous run.
	StaleWakes uint64
	// ForcedWakes is the number of times scheduling or stopping interrupted
	// a background wait.
	ForcedWakes uint64
}

// LatencySnapshot summarizes recent latency samples.
type LatencySnapshot struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

type schedulerMetrics struct {
	latency      latencyRecorder
	steps        atomic.Uint64
	blockedSteps atomic.Uint64
	staleWakes   atomic.Uint64
	forcedWakes  atomic.Uint64
}

// sampleSize is the maximum number of latency samples to retain.
const sampleSize = 1000

// latencyRecorder keeps a rolling buffer of samples.
type latencyRecorder struct {
	mu          sync.Mutex
	samples     [sampleSize]time.Duration
	sampleIdx   int
	sampleCount int
	sum         time.Duration
}

// Record records a latency sample.
func (l *latencyRecorder) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// If buffer is full, subtract the old sample that we're replacing
	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Snapshot computes percentiles from the collected samples.
func (l *latencyRecorder) Snapshot() LatencySnapshot {
	l.mu.Lock()
	count := l.sampleCount
	sorted := slices.Clone(l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return LatencySnapshot{}
	}
	slices.Sort(sorted)
	return LatencySnapshot{
		P50:   sorted[percentileIndex(count, 50)],
		P90:   sorted[percentileIndex(count, 90)],
		P99:   sorted[percentileIndex(count, 99)],
		Max:   sorted[count-1],
		Mean:  sum / time.Duration(count),
		Count: count,
	}
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

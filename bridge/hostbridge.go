package bridge

import (
	"errors"
	"sync"

	"github.com/joeycumines/go-embedloop/goroutineid"
)

// registry tracks, per goroutine, the stack of schedulers installed by Use,
// and the scheduler (if any) that is running.
var registry = newSchedulerRegistry()

type schedulerRegistry struct {
	mu      sync.Mutex
	current map[uint64][]*Scheduler
	running map[uint64]*Scheduler
}

func newSchedulerRegistry() *schedulerRegistry {
	return &schedulerRegistry{
		current: make(map[uint64][]*Scheduler),
		running: make(map[uint64]*Scheduler),
	}
}

func (r *schedulerRegistry) push(gid uint64, s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[gid] = append(r.current[gid], s)
}

// pop removes the most recent installation of s.
func (r *schedulerRegistry) pop(gid uint64, s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.current[gid]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == s {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		delete(r.current, gid)
	} else {
		r.current[gid] = stack
	}
}

func (r *schedulerRegistry) top(gid uint64) *Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stack := r.current[gid]; len(stack) != 0 {
		return stack[len(stack)-1]
	}
	return nil
}

func (r *schedulerRegistry) claimRunning(gid uint64, s *Scheduler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.running[gid]; ok && other != s {
		return false
	}
	r.running[gid] = s
	return true
}

func (r *schedulerRegistry) releaseRunning(gid uint64, s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[gid] == s {
		delete(r.running, gid)
	}
}

// Current returns the scheduler most recently installed on the calling
// goroutine by [Use], or nil.
func Current() *Scheduler {
	return registry.top(goroutineid.Current())
}

// Use installs s as the calling goroutine's current scheduler, until the
// returned release func is called (from the same goroutine). Installations
// nest. Release is idempotent.
//
// While installed, [Scheduler.RunForever] on this goroutine runs s embedded
// in the caller's host loop, rather than running a nested one.
func Use(s *Scheduler) (release func()) {
	gid := goroutineid.Current()
	registry.push(gid, s)
	var once sync.Once
	return func() {
		once.Do(func() { registry.pop(gid, s) })
	}
}

// Using runs s embedded in the host loop for the duration of fn, which is
// expected to run the host loop (e.g. call Exec), and must be called on the
// host loop's dispatch goroutine.
//
// On return (including a panic in fn) the scheduler is stopped and s is
// uninstalled. The error from fn is joined with any fatal error that ended
// the embedded run.
func Using(s *Scheduler, fn func() error) (err error) {
	if s == nil || fn == nil {
		return errors.New("bridge: nil scheduler or function")
	}
	release := Use(s)
	defer release()
	if err := s.RunForever(); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.shutdownEmbedded())
	}()
	return fn()
}

package bridge

import (
	"errors"

	"github.com/joeycumines/go-embedloop/eventloop"
)

// Standard errors. Lifecycle violations are returned wrapped in an
// [eventloop.PreconditionError] or [eventloop.IllegalStateError], so match
// them with [errors.Is].
var (
	// ErrNoHostLoop is the cause of the PreconditionError returned when a
	// scheduler is run without a host loop.
	ErrNoHostLoop = errors.New("bridge: no host loop")

	// ErrAnotherLoopRunning is returned when a scheduler is run on a
	// goroutine that is already running a different scheduler.
	ErrAnotherLoopRunning = errors.New("bridge: another scheduler is running on this goroutine")

	// ErrSelectorBusy is returned by a YieldingSelector that has an
	// outstanding background wait.
	ErrSelectorBusy = errors.New("bridge: selector has an outstanding wait")

	// ErrEmbedded is returned by operations that need to own the host loop
	// (such as RunUntilComplete) when the scheduler is embedded.
	ErrEmbedded = errors.New("bridge: scheduler is embedded in a running host loop")
)

func illegalState(message string, cause error) error {
	return &eventloop.IllegalStateError{Message: message, Cause: cause}
}

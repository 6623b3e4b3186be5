package eventloop

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(ErrCancelled))
	assert.True(t, IsFatal(ErrInterrupted))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", ErrInterrupted)))
	assert.True(t, IsFatal(&ExitError{Code: 2}))
	assert.True(t, IsFatal(newPanicError(ErrInterrupted)))
	assert.False(t, IsFatal(newPanicError("not an error")))
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("cause")

	pre := &PreconditionError{Message: "no host", Cause: cause}
	assert.Equal(t, "no host", pre.Error())
	assert.ErrorIs(t, pre, cause)
	assert.Equal(t, "precondition failed", (&PreconditionError{}).Error())

	ill := &IllegalStateError{Message: "bad state", Cause: cause}
	assert.Equal(t, "bad state", ill.Error())
	assert.ErrorIs(t, ill, cause)
	assert.Equal(t, "illegal state", (&IllegalStateError{}).Error())

	assert.ErrorIs(t, ErrCancelled, context.Canceled)

	assert.Equal(t, "eventloop: exit 3", (&ExitError{Code: 3}).Error())
	assert.Contains(t, (&ExitError{Code: 130, Signal: syscall.SIGINT}).Error(), "signal")
}

func TestSafeCall(t *testing.T) {
	assert.NoError(t, safeCall(func() error { return nil }))
	boom := errors.New("boom")
	assert.ErrorIs(t, safeCall(func() error { return boom }), boom)

	err := safeCall(func() error { panic(boom) })
	var panicErr *PanicError
	assert.ErrorAs(t, err, &panicErr)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, panicErr.Error(), "boom")
}

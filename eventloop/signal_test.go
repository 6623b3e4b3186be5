package eventloop

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_signalHandler(t *testing.T) {
	loop := newTestLoop(t)
	got := make(chan struct{}, 1)
	require.NoError(t, loop.AddSignalHandler(syscall.SIGUSR1, func() error {
		got <- struct{}{}
		loop.Stop()
		return nil
	}))

	runWithTimeout(t, 5*time.Second, func() {
		_, _ = loop.ScheduleNow(func() error {
			return syscall.Kill(os.Getpid(), syscall.SIGUSR1)
		})
		require.NoError(t, loop.RunForever())
	})
	select {
	case <-got:
	default:
		t.Fatal("handler did not run")
	}

	assert.True(t, loop.RemoveSignalHandler(syscall.SIGUSR1))
	assert.False(t, loop.RemoveSignalHandler(syscall.SIGUSR1))
}

func TestWithInterruptSignals(t *testing.T) {
	loop := newTestLoop(t, WithInterruptSignals(syscall.SIGUSR2))
	runWithTimeout(t, 5*time.Second, func() {
		_, _ = loop.ScheduleNow(func() error {
			return syscall.Kill(os.Getpid(), syscall.SIGUSR2)
		})
		err := loop.RunForever()
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, syscall.SIGUSR2, exitErr.Signal)
		assert.Equal(t, 128+int(syscall.SIGUSR2), exitErr.Code)
	})
}

func TestInterruptHandler(t *testing.T) {
	assert.ErrorIs(t, interruptHandler(os.Interrupt)(), ErrInterrupted)
	var exitErr *ExitError
	require.ErrorAs(t, interruptHandler(syscall.SIGTERM)(), &exitErr)
	assert.Equal(t, 143, exitErr.Code)
}

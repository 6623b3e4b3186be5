package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWakeChannel_singleQueuedDelivery(t *testing.T) {
	host := &fakeHost{}
	var handled int
	var w *WakeChannel
	w = NewWakeChannel(host, func(got *WakeChannel) {
		assert.Same(t, w, got)
		handled++
	})

	w.Raise()
	w.Raise()
	w.Raise()
	assert.Equal(t, 1, host.pending(), "raises coalesce until delivered")
	assert.Equal(t, 0, handled, "delivery is never inline")

	host.runAll()
	assert.Equal(t, 1, handled)

	w.Raise()
	assert.Equal(t, 1, host.pending())
	host.runAll()
	assert.Equal(t, 2, handled)
}

func TestWakeChannel_raiseFromHandler(t *testing.T) {
	host := &fakeHost{}
	var handled int
	var w *WakeChannel
	w = NewWakeChannel(host, func(*WakeChannel) {
		handled++
		if handled < 3 {
			w.Raise()
		}
	})
	w.Raise()
	for host.pending() != 0 {
		host.runAll()
	}
	assert.Equal(t, 3, handled)
}

func TestWakeChannel_uninstall(t *testing.T) {
	host := &fakeHost{}
	var handled int
	w := NewWakeChannel(host, func(*WakeChannel) { handled++ })
	assert.True(t, w.Installed())

	w.Raise()
	w.Uninstall()
	w.Uninstall()
	assert.False(t, w.Installed())

	w.Raise()
	assert.Equal(t, 1, host.pending(), "raises after uninstall are dropped")

	// the delivery queued before uninstall still reaches the handler, which
	// is responsible for recognizing it as stale
	host.runAll()
	assert.Equal(t, 1, handled)
}

func TestWakeChannel_concurrentRaise(t *testing.T) {
	host := &fakeHost{}
	w := NewWakeChannel(host, func(*WakeChannel) {})
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Raise()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, host.pending())
}

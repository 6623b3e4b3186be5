package eventloop

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_registerSelect(t *testing.T) {
	sel, err := NewDefaultSelector()
	require.NoError(t, err)
	defer sel.Close()

	r, w := testPipe(t)
	require.NoError(t, sel.Register(r, EventRead))
	assert.ErrorIs(t, sel.Register(r, EventRead), ErrFDAlreadyRegistered)
	assert.ErrorIs(t, sel.Register(-1, EventRead), ErrFDOutOfRange)
	assert.ErrorIs(t, sel.Register(w, 0), ErrNoEvents)

	poll, err := sel.Select(0)
	require.NoError(t, err)
	assert.False(t, poll.Blocked())
	assert.Empty(t, poll.Events())

	_, err = writeFD(w, []byte("x"))
	require.NoError(t, err)

	poll, err = sel.Select(time.Second)
	require.NoError(t, err)
	require.Len(t, poll.Events(), 1)
	assert.Equal(t, r, poll.Events()[0].FD)
	assert.NotZero(t, poll.Events()[0].Events&EventRead)

	// level-triggered: still reported until drained
	poll, err = sel.Select(0)
	require.NoError(t, err)
	assert.Len(t, poll.Events(), 1)

	require.NoError(t, sel.Unregister(r))
	assert.ErrorIs(t, sel.Unregister(r), ErrFDNotRegistered)
	poll, err = sel.Select(0)
	require.NoError(t, err)
	assert.Empty(t, poll.Events())
}

func TestSelector_Select_timeout(t *testing.T) {
	sel, err := NewDefaultSelector()
	require.NoError(t, err)
	defer sel.Close()

	start := time.Now()
	poll, err := sel.Select(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, poll.Events())
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSelector_Modify(t *testing.T) {
	sel, err := NewDefaultSelector()
	require.NoError(t, err)
	defer sel.Close()

	_, w := testPipe(t)
	require.NoError(t, sel.Register(w, EventRead))
	assert.ErrorIs(t, sel.Modify(w+1000, EventWrite), ErrFDNotRegistered)
	require.NoError(t, sel.Modify(w, EventWrite))

	poll, err := sel.Select(time.Second)
	require.NoError(t, err)
	require.Len(t, poll.Events(), 1)
	assert.NotZero(t, poll.Events()[0].Events&EventWrite)
}

func TestSelector_Close(t *testing.T) {
	sel, err := NewDefaultSelector()
	require.NoError(t, err)
	require.NoError(t, sel.Close())
	assert.ErrorIs(t, sel.Close(), ErrSelectorClosed)
	_, err = sel.Select(0)
	assert.ErrorIs(t, err, ErrSelectorClosed)
	assert.ErrorIs(t, sel.Register(0, EventRead), ErrSelectorClosed)
	assert.ErrorIs(t, sel.Unregister(0), ErrSelectorClosed)
	assert.ErrorIs(t, sel.Modify(0, EventRead), ErrSelectorClosed)
}

func TestTimeoutMillis(t *testing.T) {
	for _, tc := range []struct {
		in   time.Duration
		want int
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
		{Forever, -1},
		{time.Duration(math.MaxInt32) * time.Millisecond, math.MaxInt32},
	} {
		assert.Equal(t, tc.want, timeoutMillis(tc.in), tc.in.String())
	}
}

func TestPoll(t *testing.T) {
	assert.True(t, WouldBlock.Blocked())
	assert.Empty(t, WouldBlock.Events())
	p := Ready([]FDEvent{{FD: 3, Events: EventRead}})
	assert.False(t, p.Blocked())
	assert.Len(t, p.Events(), 1)
}

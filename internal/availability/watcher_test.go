package availability

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Result) (Result, bool) {
	t.Helper()
	select {
	case r, ok := <-ch:
		return r, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for availability result")
		return Result{}, false
	}
}

func TestWatch_CountsDownIntoOpen(t *testing.T) {
	mock := clock.NewMock()
	start := mock.Now().Add(3 * time.Second)
	sched := Schedule{Start: start, End: start.Add(24 * time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eval := func(now time.Time) Result { return Resolve(now, sched, true, nil) }
	ch := Watch(ctx, mock, eval, UntilStartable)

	r, ok := receive(t, ch)
	require.True(t, ok)
	assert.Equal(t, StateNotYetOpen, r.State)
	assert.EqualValues(t, 3, r.SecondsUntilOpen)

	for _, want := range []int64{2, 1} {
		mock.Add(time.Second)
		r, ok = receive(t, ch)
		require.True(t, ok)
		assert.Equal(t, StateNotYetOpen, r.State)
		assert.Equal(t, want, r.SecondsUntilOpen)
	}

	mock.Add(time.Second)
	r, ok = receive(t, ch)
	require.True(t, ok)
	assert.Equal(t, StateOpen, r.State)

	_, ok = receive(t, ch)
	assert.False(t, ok, "watch should stop once the assessment is startable")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	mock := clock.NewMock()
	sched := Schedule{Start: mock.Now().Add(time.Hour), End: mock.Now().Add(48 * time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	ch := Watch(ctx, mock, func(now time.Time) Result { return Resolve(now, sched, true, nil) }, nil)

	_, ok := receive(t, ch)
	require.True(t, ok)

	cancel()
	for {
		if _, ok := receive(t, ch); !ok {
			return
		}
	}
}

package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/log"
	"leadboard/internal/poll"
)

func TestStartRunsImmediatelyThenOnInterval(t *testing.T) {
	var n atomic.Int32
	p := poll.New("test", 20*time.Millisecond, func(context.Context) error {
		n.Add(1)
		return nil
	}, log.Discard())
	defer p.Stop()

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, int32(1), n.Load())
	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestFailedRunsAreSkipped(t *testing.T) {
	var n atomic.Int32
	p := poll.New("flaky", 10*time.Millisecond, func(context.Context) error {
		if n.Add(1)%2 == 1 {
			return errors.New("offline")
		}
		return nil
	}, log.Discard())
	defer p.Stop()

	require.NoError(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool { return n.Load() >= 4 }, time.Second, 5*time.Millisecond)
	st := p.Status()
	assert.GreaterOrEqual(t, st.Failed, 2)
	assert.False(t, st.Stopped)
}

func TestStopCancelsSchedule(t *testing.T) {
	var n atomic.Int32
	p := poll.New("stop", 10*time.Millisecond, func(context.Context) error {
		n.Add(1)
		return nil
	}, log.Discard())
	require.NoError(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	after := n.Load()
	assert.Never(t, func() bool { return n.Load() != after }, 60*time.Millisecond, 5*time.Millisecond)
	assert.True(t, p.Status().Stopped)

	p.Refresh(context.Background())
	assert.Equal(t, after, n.Load())
	assert.ErrorIs(t, p.Start(context.Background()), poll.ErrStopped)
}

func TestStopWaitsForRunningTask(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool
	first := true
	p := poll.New("slow", 5*time.Millisecond, func(ctx context.Context) error {
		if first {
			first = false
			return nil
		}
		select {
		case <-entered:
		default:
			close(entered)
		}
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}, log.Discard())
	require.NoError(t, p.Start(context.Background()))
	<-entered
	p.Stop()
	assert.True(t, finished.Load())
}

func TestStopCancelsRunningTask(t *testing.T) {
	entered := make(chan struct{})
	var calls, cancelled atomic.Int32
	p := poll.New("blocked", 5*time.Millisecond, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return nil
		}
		select {
		case <-entered:
		default:
			close(entered)
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	}, log.Discard())
	require.NoError(t, p.Start(context.Background()))
	<-entered

	start := time.Now()
	p.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), cancelled.Load())
}

func TestRefreshOnDemand(t *testing.T) {
	var n atomic.Int32
	p := poll.New("manual", time.Hour, func(context.Context) error {
		n.Add(1)
		return nil
	}, log.Discard())
	defer p.Stop()
	require.NoError(t, p.Start(context.Background()))

	p.Refresh(context.Background())
	p.Refresh(context.Background())
	assert.Equal(t, int32(3), n.Load())
	assert.Equal(t, 3, p.Status().Runs)
}

func TestStartValidates(t *testing.T) {
	assert.Error(t, poll.New("x", 0, func(context.Context) error { return nil }, nil).Start(context.Background()))
	assert.Error(t, poll.New("x", time.Second, nil, nil).Start(context.Background()))
}

package agents_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/agents"
	"leadboard/internal/domain"
	"leadboard/internal/log"
	"leadboard/internal/poll"
	"leadboard/internal/remote/remotetest"
)

func run(id int64, agent string, status domain.RunStatus) domain.AgentRun {
	return domain.AgentRun{ID: id, AgentName: agent, StartTime: "2024-01-01T00:00:00Z", Status: status}
}

func TestHistoryRefreshReplacesWholesale(t *testing.T) {
	store := remotetest.NewStore()
	store.SetRuns([]domain.AgentRun{run(3, "vetting", domain.RunRunning), run(2, "discovery", domain.RunSuccess)})
	h := agents.NewHistory(store, domain.RunQuery{})

	require.NoError(t, h.Refresh(context.Background()))
	first := h.Runs()
	require.Len(t, first, 2)

	// idempotent when nothing changed remotely
	require.NoError(t, h.Refresh(context.Background()))
	if diff := cmp.Diff(first, h.Runs()); diff != "" {
		t.Fatalf("history changed (-before +after):\n%s", diff)
	}

	store.SetRuns([]domain.AgentRun{run(4, "tech_debt", domain.RunFailed)})
	require.NoError(t, h.Refresh(context.Background()))
	require.Len(t, h.Runs(), 1)
	assert.Equal(t, int64(4), h.Runs()[0].ID)

	_, ok := h.Latest("vetting")
	assert.False(t, ok)
	latest, ok := h.Latest("tech_debt")
	require.True(t, ok)
	assert.Equal(t, domain.RunFailed, latest.Status)
}

func TestHistoryRefreshFailureKeepsList(t *testing.T) {
	store := remotetest.NewStore()
	store.SetRuns([]domain.AgentRun{run(1, "vetting", domain.RunSuccess)})
	h := agents.NewHistory(store, domain.RunQuery{Limit: 20})
	require.NoError(t, h.Refresh(context.Background()))

	store.OnLogs = func(context.Context) error { return errors.New("timeout") }
	require.Error(t, h.Refresh(context.Background()))
	assert.Len(t, h.Runs(), 1)
}

func TestHistoryLimitAndSubscribers(t *testing.T) {
	store := remotetest.NewStore()
	var runs []domain.AgentRun
	for i := 30; i > 0; i-- {
		runs = append(runs, run(int64(i), "discovery", domain.RunSuccess))
	}
	store.SetRuns(runs)
	h := agents.NewHistory(store, domain.RunQuery{})

	var got [][]domain.AgentRun
	unsub := h.Subscribe(func(r []domain.AgentRun) { got = append(got, r) })
	require.NoError(t, h.Refresh(context.Background()))
	require.Len(t, got, 1)
	assert.Len(t, got[0], agents.DefaultHistoryLimit)
	assert.Equal(t, int64(30), got[0][0].ID)

	unsub()
	require.NoError(t, h.Refresh(context.Background()))
	assert.Len(t, got, 1)
}

type countingRefresher struct{ n chan struct{} }

func (c countingRefresher) Refresh(context.Context) { c.n <- struct{}{} }

func TestTriggerBusyDuringSettle(t *testing.T) {
	store := remotetest.NewStore()
	ref := countingRefresher{n: make(chan struct{}, 4)}
	tr := agents.NewTrigger(store, ref, agents.TriggerOptions{SettleDelay: 30 * time.Millisecond, Logger: log.Discard()})
	defer tr.Close()

	res, err := tr.Execute(context.Background(), "vetting", nil)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", res.Status)
	assert.True(t, tr.Executing("vetting"))
	assert.False(t, tr.Executing("discovery"))

	_, err = tr.Execute(context.Background(), "vetting", nil)
	assert.ErrorIs(t, err, agents.ErrBusy)
	assert.Equal(t, 1, store.Calls("execute"))

	// other agents are independent
	_, err = tr.Execute(context.Background(), "discovery", nil)
	require.NoError(t, err)

	select {
	case <-ref.n:
	case <-time.After(time.Second):
		t.Fatal("history was not refreshed after settle delay")
	}
	assert.Eventually(t, func() bool { return !tr.Executing("vetting") }, time.Second, 5*time.Millisecond)
	_, err = tr.Execute(context.Background(), "vetting", nil)
	assert.NoError(t, err)
}

func TestTriggerRejectedClearsBusy(t *testing.T) {
	store := remotetest.NewStore()
	store.OnExecute = func(context.Context, string) error { return errors.New("422") }
	ref := countingRefresher{n: make(chan struct{}, 1)}
	tr := agents.NewTrigger(store, ref, agents.TriggerOptions{SettleDelay: 10 * time.Millisecond, Logger: log.Discard()})
	defer tr.Close()

	_, err := tr.Execute(context.Background(), "tech_debt", nil)
	assert.ErrorIs(t, err, agents.ErrOperationFailed)
	assert.False(t, tr.Executing("tech_debt"))
	assert.Never(t, func() bool { return len(ref.n) > 0 }, 40*time.Millisecond, 5*time.Millisecond)
}

func TestTriggerCloseCancelsSettle(t *testing.T) {
	store := remotetest.NewStore()
	ref := countingRefresher{n: make(chan struct{}, 1)}
	tr := agents.NewTrigger(store, ref, agents.TriggerOptions{SettleDelay: 20 * time.Millisecond, Logger: log.Discard()})

	_, err := tr.Execute(context.Background(), "discovery", nil)
	require.NoError(t, err)
	tr.Close()
	assert.False(t, tr.Executing("discovery"))
	assert.Never(t, func() bool { return len(ref.n) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	_, err = tr.Execute(context.Background(), "discovery", nil)
	assert.ErrorIs(t, err, agents.ErrClosed)
}

// With the periodic fetch effectively paused, the only extra history fetch comes from the settle delay.
func TestExecuteAddsExactlyOneHistoryFetch(t *testing.T) {
	store := remotetest.NewStore()
	h := agents.NewHistory(store, domain.RunQuery{Limit: 20})
	p := poll.New("history", time.Hour, h.Refresh, log.Discard())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	baseline := store.Calls("logs")
	require.Equal(t, 1, baseline)

	tr := agents.NewTrigger(store, p, agents.TriggerOptions{SettleDelay: 20 * time.Millisecond, Logger: log.Discard()})
	defer tr.Close()
	_, err := tr.Execute(context.Background(), "discovery", nil)
	require.NoError(t, err)
	assert.Equal(t, baseline, store.Calls("logs"))

	assert.Eventually(t, func() bool { return store.Calls("logs") == baseline+1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return store.Calls("logs") > baseline+1 }, 60*time.Millisecond, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !tr.Executing("discovery") }, time.Second, 5*time.Millisecond)
}

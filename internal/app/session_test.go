package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/app"
	"leadboard/internal/config"
	"leadboard/internal/domain"
	"leadboard/internal/engine"
	"leadboard/internal/events"
	"leadboard/internal/log"
	"leadboard/internal/remote/remotetest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Polling.HistoryInterval = time.Hour
	cfg.Agents.SettleDelay = 20 * time.Millisecond
	cfg.Discovery.ReloadDelay = 20 * time.Millisecond
	return cfg
}

func TestSessionDragScenario(t *testing.T) {
	store := remotetest.NewStore(
		domain.Lead{ID: 1, CompanyName: "Acme", Stage: domain.StageNew},
		domain.Lead{ID: 2, CompanyName: "Globex", Stage: domain.StageVetted},
	)
	s, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    testConfig(),
		Remote:    store,
		Journal:   true,
		Logger:    log.Discard(),
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, store.Calls("logs"))

	release := make(chan error)
	store.OnUpdate = func(context.Context, int64, domain.LeadUpdate) error { return <-release }

	tr, err := s.Engine.Begin(context.Background(), engine.DragEnd{LeadID: 1, Target: domain.StageVetted})
	require.NoError(t, err)
	cur, _ := s.Board.Current()
	vetted, _ := cur.Column(domain.StageVetted)
	assert.Len(t, vetted.Leads, 2)

	release <- errors.New("502 bad gateway")
	require.NoError(t, tr.Wait(context.Background()))
	if diff := cmp.Diff(store.Leads(), s.Cache.Snapshot()); diff != "" {
		t.Fatalf("cache did not converge (-remote +cache):\n%s", diff)
	}
	cur, _ = s.Board.Current()
	newCol, _ := cur.Column(domain.StageNew)
	require.Len(t, newCol.Leads, 1)
	assert.Equal(t, int64(1), newCol.Leads[0].ID)

	journal, err := events.Tail(context.Background(), s.DB, events.Query{LeadID: 1})
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.Equal(t, events.TransitionRolledBack, journal[0].Type)
	assert.Equal(t, s.ID, journal[0].SessionID)
}

func TestSessionAgentRunRefreshesHistory(t *testing.T) {
	store := remotetest.NewStore()
	s, err := app.Open(context.Background(), app.Options{Config: testConfig(), Remote: store, Logger: log.Discard()})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))
	baseline := store.Calls("logs")

	store.SetRuns([]domain.AgentRun{{ID: 9, AgentName: "discovery", Status: domain.RunRunning, StartTime: "2024-01-01T00:00:00Z"}})
	_, err = s.Trigger.Execute(context.Background(), "discovery", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(s.History.Runs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, baseline+1, store.Calls("logs"))
}

func TestSessionStartSurvivesFailedLoad(t *testing.T) {
	store := remotetest.NewStore(domain.Lead{ID: 1, CompanyName: "Acme", Stage: domain.StageNew})
	var offline atomic.Bool
	offline.Store(true)
	store.OnList = func(context.Context) error {
		if offline.Load() {
			return errors.New("offline")
		}
		return nil
	}
	cfg := testConfig()
	cfg.Polling.LeadsInterval = 10 * time.Millisecond
	s, err := app.Open(context.Background(), app.Options{Config: cfg, Remote: store, Logger: log.Discard()})
	require.NoError(t, err)
	defer s.Close()

	err = s.Start(context.Background())
	require.ErrorIs(t, err, engine.ErrOperationFailed)
	require.NotNil(t, s.LeadsPoller)

	offline.Store(false)
	assert.Eventually(t, func() bool { return s.Cache.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionCloseStopsPollers(t *testing.T) {
	store := remotetest.NewStore()
	cfg := testConfig()
	cfg.Polling.HistoryInterval = 10 * time.Millisecond
	s, err := app.Open(context.Background(), app.Options{Config: cfg, Remote: store, Logger: log.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())

	after := store.Calls("logs")
	assert.Never(t, func() bool { return store.Calls("logs") != after }, 50*time.Millisecond, 5*time.Millisecond)
	_, err = s.Engine.Begin(context.Background(), engine.DragEnd{LeadID: 1, Target: domain.StageNew})
	assert.ErrorIs(t, err, engine.ErrClosed)
}

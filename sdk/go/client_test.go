package leadboardsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/app"
	"leadboard/internal/config"
	"leadboard/internal/domain"
	"leadboard/internal/log"
	"leadboard/internal/remote/remotetest"
	"leadboard/internal/server"
	leadboardsdk "leadboard/sdk/go"
)

func newClient(t *testing.T, store *remotetest.Store) *leadboardsdk.Client {
	t.Helper()
	cfg := config.Default()
	cfg.Polling.HistoryInterval = time.Hour
	s, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    cfg,
		Remote:    store,
		Journal:   true,
		Logger:    log.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	h, err := server.New(server.Config{Session: s, BasePath: "/v0", Logger: log.Discard()})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return leadboardsdk.New(srv.URL)
}

func TestMoveAndBoard(t *testing.T) {
	store := remotetest.NewStore(
		domain.Lead{ID: 1, CompanyName: "Acme", Stage: domain.StageNew},
		domain.Lead{ID: 2, CompanyName: "Globex", Stage: domain.StageNew},
	)
	c := newClient(t, store)
	ctx := context.Background()

	tr, err := c.Move(ctx, 2, "contacted", true)
	require.NoError(t, err)
	assert.Equal(t, "committed", tr.State)

	b, err := c.Board(ctx)
	require.NoError(t, err)
	require.Len(t, b.Columns, 5)
	assert.Equal(t, "new", b.Columns[0].Stage)
	require.Len(t, b.Columns[0].Leads, 1)
	require.Len(t, b.Columns[4].Leads, 1)
	assert.Equal(t, int64(2), b.Columns[4].Leads[0].ID)

	l, err := c.Lead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "contacted", l.Stage)

	evts, err := c.Journal(ctx, 10, "transition.committed")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.NotNil(t, evts[0].LeadID)
	assert.Equal(t, int64(2), *evts[0].LeadID)
}

func TestErrorEnvelope(t *testing.T) {
	store := remotetest.NewStore(domain.Lead{ID: 1, CompanyName: "Acme", Stage: domain.StageNew})
	c := newClient(t, store)

	_, err := c.Move(context.Background(), 1, "archived", false)
	var apiErr *leadboardsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "unknown_stage", apiErr.Code)

	_, err = c.Lead(context.Background(), 99)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestExecuteAndHistory(t *testing.T) {
	store := remotetest.NewStore()
	store.SetRuns([]domain.AgentRun{{ID: 7, AgentName: "vetting", StartTime: "2024-01-01T00:00:00Z", Status: domain.RunSuccess}})
	c := newClient(t, store)
	ctx := context.Background()

	res, err := c.Execute(ctx, "vetting")
	require.NoError(t, err)
	assert.Equal(t, "scheduled", res.Status)

	runs, err := c.History(ctx, true)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "vetting", runs[0].AgentName)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/app"
	"leadboard/internal/board"
	"leadboard/internal/config"
	"leadboard/internal/domain"
	"leadboard/internal/log"
	"leadboard/internal/remote/remotetest"
)

type testServer struct {
	URL     string
	Session *app.Session
	Store   *remotetest.Store
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	store := remotetest.NewStore(
		domain.Lead{ID: 1, CompanyName: "Acme", Stage: domain.StageNew, VettingStatus: domain.VettingPending},
		domain.Lead{ID: 2, CompanyName: "Globex", Stage: domain.StageVetted, VettingStatus: domain.VettingApproved},
		domain.Lead{ID: 3, CompanyName: "Initech", Stage: domain.StageContacted, VettingStatus: domain.VettingRejected},
	)
	cfg := config.Default()
	cfg.Polling.HistoryInterval = time.Hour
	cfg.Agents.SettleDelay = time.Second
	cfg.Discovery.ReloadDelay = 20 * time.Millisecond
	s, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    cfg,
		Remote:    store,
		Journal:   true,
		Logger:    log.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	handler, err := New(Config{Session: s, BasePath: "/v0", Auth: auth, Logger: log.Discard()})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return &testServer{URL: srv.URL, Session: s, Store: store}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestBoardAndStats(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/board", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.NotEmpty(t, res.Header.Get("X-Cache-Version"))
	var b board.Board
	require.NoError(t, json.Unmarshal(data, &b))
	require.Len(t, b.Columns, len(domain.Stages()))
	assert.Equal(t, 3, b.Total)
	col, ok := b.Column(domain.StageVetted)
	require.True(t, ok)
	require.Len(t, col.Leads, 1)
	assert.Equal(t, int64(2), col.Leads[0].ID)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/stats", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var st board.Stats
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 3, st.TotalLeads)
	assert.Equal(t, 1, st.Approved)
	assert.Equal(t, 5000, st.PipelineValue)
}

func TestMoveLeadCommits(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/leads/1/move", MoveRequest{Stage: "enriched", Wait: true}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tr TransitionResponse
	require.NoError(t, json.Unmarshal(data, &tr))
	assert.Equal(t, "committed", tr.State)
	assert.Equal(t, "new", tr.From)
	assert.Equal(t, "enriched", tr.To)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/leads/1", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var lead LeadResponse
	require.NoError(t, json.Unmarshal(data, &lead))
	assert.Equal(t, domain.StageEnriched, lead.Stage)
	assert.Equal(t, "committed", lead.SyncState)
}

func TestMoveLeadRollsBackOnRemoteFailure(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	srv.Store.OnUpdate = func(context.Context, int64, domain.LeadUpdate) error { return errors.New("bad gateway") }

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/leads/1/move", MoveRequest{Stage: "vetted", Wait: true}, nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode, string(data))
	assert.Equal(t, "operation_failed", decodeError(t, data).Code)

	l, ok := srv.Session.Cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.StageNew, l.Stage)
}

func TestMoveLeadValidation(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/leads/1/move", MoveRequest{Stage: "closed"}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "unknown_stage", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/leads/42/move", MoveRequest{Stage: "vetted"}, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	// no drop target
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/leads/1/move", MoveRequest{}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tr TransitionResponse
	require.NoError(t, json.Unmarshal(data, &tr))
	assert.Equal(t, "idle", tr.State)
	assert.Empty(t, tr.ID)
	assert.Equal(t, 0, srv.Store.Calls("update"))
}

func TestDeleteLeadsReportsAggregateFailure(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	srv.Store.OnDelete = func(_ context.Context, id int64) error {
		if id == 2 {
			return errors.New("locked")
		}
		return nil
	}

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/leads/delete", DeleteLeadsRequest{IDs: []int64{1, 2}}, nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "operation_failed", body.Code)
	assert.Equal(t, []any{float64(2)}, body.Details["failed"])
	assert.Equal(t, []int64{2, 3}, srv.Session.Cache.IDs())
}

func TestExecuteAgentAfterClose(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	srv.Session.Trigger.Close()

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/agents/vetting/execute", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode, string(data))
}

func TestExecuteAgentAndList(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/agents/vetting/execute", ExecuteRequest{}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/agents/vetting/execute", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/agents", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list []AgentResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, len(domain.Agents()))
}

func TestDiscoveryReloadsCache(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	srv.Store.OnDiscovery = func(context.Context, int) error {
		srv.Store.SetLeads(append(srv.Store.Leads(), domain.Lead{ID: 4, CompanyName: "Hooli", Stage: domain.StageNew}))
		return nil
	}

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/discovery", DiscoveryRequest{TargetCount: 5}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Eventually(t, func() bool { return srv.Session.Cache.Len() == 4 }, time.Second, 10*time.Millisecond)
}

func TestJournalListsTransitions(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/leads/3/move", MoveRequest{Stage: "new", Wait: true}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/journal?lead_id=3", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "transition.committed", page.Items[0].Type)
}

func TestAuthRequiresBearerToken(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/board", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/board", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := IssueToken(secret, "operator", []string{"board"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/me", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var p Principal
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "operator", p.Subject)
	assert.Equal(t, []string{"board"}, p.Scopes)
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s"})
	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/leads/{id}/move")
	assert.Contains(t, paths, "/v0/board")
}

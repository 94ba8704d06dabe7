package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/config"
	"leadboard/internal/db"
	"leadboard/internal/events"
	"leadboard/internal/log"
	"leadboard/internal/migrate"
)

type delivery struct {
	Type   string
	Secret string
	Event  events.Event
}

func TestWebhooksForwardNewEvents(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	w := events.Writer{DB: conn, SessionID: "s1"}
	ctx := context.Background()

	// written before start, never replayed
	require.NoError(t, w.Append(ctx, events.BulkDelete, 0, "", events.EventPayload{"total": 1}))

	var mu sync.Mutex
	var got []delivery
	hook := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var evt events.Event
		_ = json.Unmarshal(b, &evt)
		mu.Lock()
		got = append(got, delivery{Type: r.Header.Get("X-Leadboard-Event"), Secret: r.Header.Get("X-Leadboard-Secret"), Event: evt})
		mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	p, err := StartWebhooks(ctx, conn, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.TransitionRolledBack},
		Secret: "shh",
	}}, 20*time.Millisecond, log.Discard())
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(p.Stop)

	require.NoError(t, w.Append(ctx, events.TransitionPending, 3, "t1", nil))
	require.NoError(t, w.Append(ctx, events.TransitionRolledBack, 3, "t1", events.EventPayload{"error": "boom"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events.TransitionRolledBack, got[0].Type)
	assert.Equal(t, "shh", got[0].Secret)
	assert.Equal(t, "t1", got[0].Event.Ref)
	assert.Equal(t, "s1", got[0].Event.SessionID)
}

func TestStartWebhooksWithoutHooks(t *testing.T) {
	p, err := StartWebhooks(context.Background(), nil, nil, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

package events_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadboard/internal/db"
	"leadboard/internal/events"
	"leadboard/internal/migrate"
)

func openJournal(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func TestAppendAndTail(t *testing.T) {
	conn := openJournal(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := events.Writer{DB: conn, Now: func() time.Time { return fixed }, SessionID: "s1"}
	require.NoError(t, w.StartSession(ctx, "http://api"))

	require.NoError(t, w.Append(ctx, events.TransitionPending, 7, "t-1", events.EventPayload{"to": "vetted"}))
	require.NoError(t, w.Append(ctx, events.TransitionCommitted, 7, "t-1", nil))
	require.NoError(t, w.Append(ctx, events.BulkDelete, 0, "", events.EventPayload{"total": 3}))

	all, err := events.Tail(ctx, conn, events.Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, events.BulkDelete, all[0].Type)
	assert.Nil(t, all[0].LeadID)
	assert.EqualValues(t, 3, all[0].Payload["total"])
	assert.Equal(t, "s1", all[2].SessionID)
	assert.Equal(t, "vetted", all[2].Payload["to"])
	assert.Equal(t, fixed.Format(time.RFC3339Nano), all[2].TS)

	byLead, err := events.Tail(ctx, conn, events.Query{LeadID: 7, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byLead, 1)
	assert.Equal(t, events.TransitionCommitted, byLead[0].Type)
	assert.Equal(t, "t-1", byLead[0].Ref)

	byType, err := events.Tail(ctx, conn, events.Query{Type: events.TransitionPending})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	require.NoError(t, w.EndSession(ctx))
	var ended sql.NullString
	require.NoError(t, conn.QueryRow(`SELECT ended_at FROM sessions WHERE id='s1'`).Scan(&ended))
	assert.True(t, ended.Valid)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openJournal(t)
	require.NoError(t, migrate.Migrate(conn))
	var v int
	require.NoError(t, conn.QueryRow(`SELECT version FROM schema_version`).Scan(&v))
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, v)
	assert.Equal(t, 2, v)
}

func TestWriterWithoutDBIsNoop(t *testing.T) {
	var w events.Writer
	assert.NoError(t, w.Append(context.Background(), events.AgentExecuted, 0, "discovery", nil))
	assert.NoError(t, w.StartSession(context.Background(), "x"))
}

func TestAfterAndLatestID(t *testing.T) {
	conn := openJournal(t)
	ctx := context.Background()
	latest, err := events.LatestID(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, latest)

	w := events.Writer{DB: conn}
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(ctx, events.AgentExecuted, 0, "vetting", nil))
	}
	latest, err = events.LatestID(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	after, err := events.After(ctx, conn, 1, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(2), after[0].ID)
	assert.Equal(t, int64(3), after[1].ID)
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TransitionPending    = "transition.pending"
	TransitionCommitted  = "transition.committed"
	TransitionRolledBack = "transition.rolled_back"
	CacheReloadFailed    = "cache.reload_failed"
	BulkDelete           = "leads.bulk_delete"
	DiscoveryAccepted    = "discovery.accepted"
	DiscoveryFailed      = "discovery.failed"
	AgentExecuted        = "agent.executed"
	AgentRejected        = "agent.rejected"
)

type Writer struct {
	DB        *sql.DB
	Now       func() time.Time
	SessionID string
}

type EventPayload map[string]any

// Append records one event. leadID 0 means the event is not about a single lead.
func (w Writer) Append(ctx context.Context, evtType string, leadID int64, ref string, payload EventPayload) error {
	if w.DB == nil {
		return nil
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,lead_id,ref,session_id,payload_json) VALUES (?,?,?,?,?,?)`,
		w.now(), evtType, nullableID(leadID), nullable(ref), nullable(w.SessionID), string(data))
	return err
}

// StartSession opens a session row that later events point at.
func (w Writer) StartSession(ctx context.Context, baseURL string) error {
	if w.DB == nil || w.SessionID == "" {
		return nil
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO sessions(id,base_url,started_at) VALUES (?,?,?)`, w.SessionID, baseURL, w.now())
	return err
}

func (w Writer) EndSession(ctx context.Context) error {
	if w.DB == nil || w.SessionID == "" {
		return nil
	}
	_, err := w.DB.ExecContext(ctx, `UPDATE sessions SET ended_at=? WHERE id=?`, w.now(), w.SessionID)
	return err
}

func (w Writer) now() string {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

type Event struct {
	ID        int64        `json:"id"`
	TS        string       `json:"ts"`
	Type      string       `json:"type"`
	LeadID    *int64       `json:"lead_id,omitempty"`
	Ref       string       `json:"ref,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Payload   EventPayload `json:"payload"`
}

type Query struct {
	Limit  int
	Type   string
	LeadID int64
}

// Tail returns the newest events first.
func Tail(ctx context.Context, db *sql.DB, q Query) ([]Event, error) {
	var where []string
	var args []any
	if q.Type != "" {
		where = append(where, "type=?")
		args = append(args, q.Type)
	}
	if q.LeadID != 0 {
		where = append(where, "lead_id=?")
		args = append(args, q.LeadID)
	}
	stmt := `SELECT id,ts,type,lead_id,ref,session_id,payload_json FROM events`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id DESC"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// After returns up to limit events with id greater than cursor, oldest first.
func After(ctx context.Context, db *sql.DB, cursor int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT id,ts,type,lead_id,ref,session_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestID is the newest event id, or 0 for an empty journal.
func LatestID(ctx context.Context, db *sql.DB) (int64, error) {
	var id sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		e       Event
		leadID  sql.NullInt64
		ref     sql.NullString
		session sql.NullString
		payload string
	)
	if err := rows.Scan(&e.ID, &e.TS, &e.Type, &leadID, &ref, &session, &payload); err != nil {
		return Event{}, err
	}
	if leadID.Valid {
		id := leadID.Int64
		e.LeadID = &id
	}
	e.Ref = ref.String
	e.SessionID = session.String
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return Event{}, fmt.Errorf("event %d payload: %w", e.ID, err)
	}
	return e, nil
}

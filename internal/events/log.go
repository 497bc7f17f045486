// Package events is the append-only audit trail. The package exposes no
// update or delete path; once written, an event row is immutable.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bountyline/internal/domain"
)

type Log struct {
	DB  *sql.DB
	Now func() time.Time
}

func (l Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append writes one event inside the caller's transaction. The audit record
// is part of the caller's unit of work: if the append fails, the caller must
// fail as a whole. When snapshot is non-nil its canonical hash is stored on
// the event.
func (l Log) Append(ctx context.Context, tx *sql.Tx, actorID, entityKind, entityID, action string, snapshot Snapshot, metadata map[string]any) (domain.Event, error) {
	ev := domain.Event{
		TS:         l.now().UTC().Format(time.RFC3339),
		ActorID:    actorID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     action,
	}
	if snapshot != nil {
		hash, err := Hash(snapshot)
		if err != nil {
			return domain.Event{}, err
		}
		ev.ContentHash = hash
	}
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return domain.Event{}, fmt.Errorf("marshal event metadata: %w", err)
		}
		ev.Metadata = string(data)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,actor_id,entity_kind,entity_id,action,content_hash,metadata_json) VALUES (?,?,?,?,?,?,?)`,
		ev.TS, ev.ActorID, ev.EntityKind, ev.EntityID, ev.Action, nullable(ev.ContentHash), nullable(ev.Metadata))
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return ev, nil
}

// Trail returns the complete chronological (oldest first) event sequence for
// one entity.
func (l Log) Trail(ctx context.Context, entityKind, entityID string) ([]domain.Event, error) {
	return l.query(ctx, `SELECT id,ts,actor_id,entity_kind,entity_id,action,COALESCE(content_hash,''),COALESCE(metadata_json,'')
		FROM events WHERE entity_kind=? AND entity_id=? ORDER BY id ASC`, entityKind, entityID)
}

// ByActor returns the most recent events emitted by one actor, newest first.
func (l Log) ByActor(ctx context.Context, actorID string, limit int) ([]domain.Event, error) {
	return l.query(ctx, `SELECT id,ts,actor_id,entity_kind,entity_id,action,COALESCE(content_hash,''),COALESCE(metadata_json,'')
		FROM events WHERE actor_id=? ORDER BY id DESC LIMIT ?`, actorID, boundedLimit(limit))
}

// Recent returns system-wide recent events, newest first.
func (l Log) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	return l.query(ctx, `SELECT id,ts,actor_id,entity_kind,entity_id,action,COALESCE(content_hash,''),COALESCE(metadata_json,'')
		FROM events ORDER BY id DESC LIMIT ?`, boundedLimit(limit))
}

// After returns up to limit events with id greater than afterID, oldest
// first. Used by the webhook dispatcher cursor.
func (l Log) After(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	return l.query(ctx, `SELECT id,ts,actor_id,entity_kind,entity_id,action,COALESCE(content_hash,''),COALESCE(metadata_json,'')
		FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, boundedLimit(limit))
}

// LatestID returns the highest event id, or 0 when the log is empty.
func (l Log) LatestID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := l.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (l Log) query(ctx context.Context, q string, args ...any) ([]domain.Event, error) {
	rows, err := l.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.ActorID, &ev.EntityKind, &ev.EntityID, &ev.Action, &ev.ContentHash, &ev.Metadata); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func boundedLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package events_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"bountyline/internal/db"
	"bountyline/internal/events"
	"bountyline/internal/migrate"
)

func newTestLog(t *testing.T) (events.Log, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return events.Log{DB: conn, Now: func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}}, conn
}

func appendEvent(t *testing.T, l events.Log, conn *sql.DB, actorID, entityKind, entityID, action string, snapshot events.Snapshot) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ev, err := l.Append(ctx, tx, actorID, entityKind, entityID, action, snapshot, nil)
	if err != nil {
		tx.Rollback()
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return ev.ID
}

func TestTrailIsChronological(t *testing.T) {
	l, conn := newTestLog(t)
	ctx := context.Background()
	appendEvent(t, l, conn, "sponsor", "challenge", "ch-1", "CHALLENGE_CREATED", nil)
	appendEvent(t, l, conn, "alice", "challenge", "ch-1", "CHALLENGE_STARTED", nil)
	appendEvent(t, l, conn, "sponsor", "challenge", "ch-1", "CHALLENGE_COMPLETED", events.Snapshot{"k": "v"})
	appendEvent(t, l, conn, "sponsor", "challenge", "ch-2", "CHALLENGE_CREATED", nil)

	trail, err := l.Trail(ctx, "challenge", "ch-1")
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("got %d events, want 3", len(trail))
	}
	wantActions := []string{"CHALLENGE_CREATED", "CHALLENGE_STARTED", "CHALLENGE_COMPLETED"}
	for i, ev := range trail {
		if ev.Action != wantActions[i] {
			t.Fatalf("position %d: got %s, want %s", i, ev.Action, wantActions[i])
		}
	}
	if trail[2].ContentHash == "" {
		t.Fatal("snapshot hash not persisted")
	}
	if trail[0].ContentHash != "" {
		t.Fatal("hash present for event appended without snapshot")
	}
}

func TestByActorNewestFirst(t *testing.T) {
	l, conn := newTestLog(t)
	ctx := context.Background()
	appendEvent(t, l, conn, "alice", "contribution", "co-1", "CONTRIBUTION_RECORDED", nil)
	appendEvent(t, l, conn, "bob", "contribution", "co-2", "CONTRIBUTION_RECORDED", nil)
	appendEvent(t, l, conn, "alice", "contribution", "co-3", "CONTRIBUTION_RECORDED", nil)

	got, err := l.ByActor(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("by actor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].EntityID != "co-3" || got[1].EntityID != "co-1" {
		t.Fatalf("not newest first: %s, %s", got[0].EntityID, got[1].EntityID)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	l, conn := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		appendEvent(t, l, conn, "alice", "challenge", "ch-1", "CONTRIBUTION_RECORDED", nil)
	}
	got, err := l.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	// Degenerate limits fall back to the default instead of erroring.
	if _, err := l.Recent(ctx, -1); err != nil {
		t.Fatalf("recent with negative limit: %v", err)
	}
	if _, err := l.Recent(ctx, 10000); err != nil {
		t.Fatalf("recent with huge limit: %v", err)
	}
}

func TestAfterCursor(t *testing.T) {
	l, conn := newTestLog(t)
	ctx := context.Background()
	first := appendEvent(t, l, conn, "alice", "challenge", "ch-1", "CHALLENGE_CREATED", nil)
	appendEvent(t, l, conn, "alice", "challenge", "ch-1", "CHALLENGE_STARTED", nil)
	last := appendEvent(t, l, conn, "alice", "challenge", "ch-1", "CHALLENGE_COMPLETED", nil)

	latest, err := l.LatestID(ctx)
	if err != nil {
		t.Fatalf("latest id: %v", err)
	}
	if latest != last {
		t.Fatalf("latest id %d, want %d", latest, last)
	}
	batch, err := l.After(ctx, 100, first)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d events after cursor, want 2", len(batch))
	}
	if batch[0].Action != "CHALLENGE_STARTED" {
		t.Fatalf("cursor batch starts at %s", batch[0].Action)
	}
}

func TestLatestIDEmptyLog(t *testing.T) {
	l, _ := newTestLog(t)
	id, err := l.LatestID(context.Background())
	if err != nil {
		t.Fatalf("latest id: %v", err)
	}
	if id != 0 {
		t.Fatalf("empty log latest id %d, want 0", id)
	}
}

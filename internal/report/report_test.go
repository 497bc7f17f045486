package report_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/events"
	"bountyline/internal/migrate"
	"bountyline/internal/report"
)

func newTestEngine(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("market-1"))
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return e, context.Background()
}

func completeChallenge(t *testing.T, e engine.Engine, ctx context.Context) string {
	t.Helper()
	c, err := e.CreateChallenge(ctx, engine.ChallengeCreateOptions{
		ID:        "ch-1",
		Title:     "Build",
		Bounty:    decimal.RequireFromString("900.00"),
		SponsorID: "sponsor",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, who := range []string{"alice", "bob", "carol"} {
		if _, err := e.AddContribution(ctx, engine.ContributionCreateOptions{
			ChallengeID: c.ID, ContributorID: who, Category: "code",
		}); err != nil {
			t.Fatalf("contribute %s: %v", who, err)
		}
	}
	if _, err := e.CompleteChallenge(ctx, c.ID, "sponsor"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return c.ID
}

func TestBuildCertificate(t *testing.T) {
	e, ctx := newTestEngine(t)
	id := completeChallenge(t, e, ctx)

	hashes := []report.FileHash{{Filename: "deliverable.tar.gz", Hash: "abc123"}}
	cert, err := report.Build(ctx, e, id, hashes)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cert.Summary.RecipientCount != 3 {
		t.Fatalf("recipient count %d", cert.Summary.RecipientCount)
	}
	if !cert.Summary.TotalAmount.Equal(decimal.RequireFromString("900.00")) {
		t.Fatalf("total %s", cert.Summary.TotalAmount)
	}
	if len(cert.Trail) == 0 {
		t.Fatal("empty trail")
	}
	if cert.Assessment.Gini != 0 {
		t.Fatalf("equal split gini %v", cert.Assessment.Gini)
	}
	if !cert.ThresholdPassed {
		t.Fatalf("equal split failed threshold: score %v", cert.Assessment.Score)
	}
	if len(cert.FileHashes) != 1 || cert.FileHashes[0].Filename != "deliverable.tar.gz" {
		t.Fatalf("file hashes %+v", cert.FileHashes)
	}
}

func TestBuildRequiresCompletion(t *testing.T) {
	e, ctx := newTestEngine(t)
	if _, err := e.CreateChallenge(ctx, engine.ChallengeCreateOptions{
		ID: "ch-open", Title: "t", Bounty: decimal.RequireFromString("10.00"), SponsorID: "sponsor",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	var stateErr engine.StateConflictError
	if _, err := report.Build(ctx, e, "ch-open", nil); !errors.As(err, &stateErr) {
		t.Fatalf("got %v, want StateConflictError", err)
	}
}

func TestBuildDetectsTampering(t *testing.T) {
	e, ctx := newTestEngine(t)
	id := completeChallenge(t, e, ctx)

	// Rewrite the durable bounty behind the audit trail's back.
	if _, err := e.DB.Exec(`UPDATE challenges SET bounty='1.00' WHERE id=?`, id); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_, err := report.Build(ctx, e, id, nil)
	var intErr events.IntegrityError
	if !errors.As(err, &intErr) {
		t.Fatalf("got %v, want IntegrityError", err)
	}
	if !strings.Contains(err.Error(), "completion event") {
		t.Fatalf("error lacks context: %v", err)
	}
}

package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, conn
}

func insertChallenge(t *testing.T, r repo.Repo, conn *sql.DB, id, status string) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c := domain.Challenge{
		ID:        id,
		SponsorID: "sponsor",
		Title:     "t",
		Bounty:    decimal.RequireFromString("100.00"),
		Currency:  "USD",
		Status:    status,
		CreatedAt: "2026-03-01T00:00:00Z",
		UpdatedAt: "2026-03-01T00:00:00Z",
	}
	if err := r.InsertChallenge(ctx, tx, c); err != nil {
		t.Fatalf("insert challenge: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGetChallengeNotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	_, err := r.GetChallenge(context.Background(), "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTransitionChallengeStatusGuard(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	insertChallenge(t, r, conn, "ch-1", domain.ChallengeInProgress)

	now := "2026-03-02T00:00:00Z"
	tx, _ := conn.BeginTx(ctx, nil)
	if err := r.TransitionChallengeStatus(ctx, tx, "ch-1", domain.ChallengeInProgress, domain.ChallengeCompleted, now, &now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	tx.Commit()

	c, err := r.GetChallenge(ctx, "ch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != domain.ChallengeCompleted {
		t.Fatalf("status %s", c.Status)
	}
	if c.CompletedAt == nil || *c.CompletedAt != now {
		t.Fatalf("completed_at %v", c.CompletedAt)
	}

	// The same from-status no longer matches: second transition must lose.
	tx, _ = conn.BeginTx(ctx, nil)
	err = r.TransitionChallengeStatus(ctx, tx, "ch-1", domain.ChallengeInProgress, domain.ChallengeCompleted, now, &now)
	tx.Rollback()
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("repeat transition: got %v, want ErrNotFound", err)
	}
}

func TestTransitionPreservesCompletedAt(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	insertChallenge(t, r, conn, "ch-1", domain.ChallengeInProgress)

	completed := "2026-03-02T00:00:00Z"
	tx, _ := conn.BeginTx(ctx, nil)
	if err := r.TransitionChallengeStatus(ctx, tx, "ch-1", domain.ChallengeInProgress, domain.ChallengeCompleted, completed, &completed); err != nil {
		t.Fatalf("transition: %v", err)
	}
	tx.Commit()

	// A later transition passing nil must not clear the stamp.
	later := "2026-03-03T00:00:00Z"
	tx, _ = conn.BeginTx(ctx, nil)
	if err := r.TransitionChallengeStatus(ctx, tx, "ch-1", domain.ChallengeCompleted, domain.ChallengeClosed, later, nil); err != nil {
		t.Fatalf("second transition: %v", err)
	}
	tx.Commit()

	c, _ := r.GetChallenge(ctx, "ch-1")
	if c.CompletedAt == nil || *c.CompletedAt != completed {
		t.Fatalf("completed_at lost: %v", c.CompletedAt)
	}
}

func TestListPaymentsOrdersByAmount(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	insertChallenge(t, r, conn, "ch-1", domain.ChallengeCompleted)

	amounts := map[string]string{"p-1": "33.33", "p-2": "1000.00", "p-3": "400.00"}
	tx, _ := conn.BeginTx(ctx, nil)
	for id, amount := range amounts {
		p := domain.Payment{
			ID:            id,
			ChallengeID:   "ch-1",
			ContributorID: "alice",
			Amount:        decimal.RequireFromString(amount),
			Currency:      "USD",
			Method:        domain.MethodFiat,
			Status:        domain.PaymentPending,
			CreatedAt:     "2026-03-01T00:00:00Z",
			UpdatedAt:     "2026-03-01T00:00:00Z",
		}
		if err := r.InsertPayment(ctx, tx, p); err != nil {
			t.Fatalf("insert payment: %v", err)
		}
	}
	tx.Commit()

	payments, err := r.ListPayments(ctx, "ch-1")
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	want := []string{"p-2", "p-3", "p-1"}
	for i, p := range payments {
		if p.ID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, p.ID, want[i])
		}
	}
}

func TestTransitionPaymentStatusGuard(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	insertChallenge(t, r, conn, "ch-1", domain.ChallengeCompleted)

	tx, _ := conn.BeginTx(ctx, nil)
	p := domain.Payment{
		ID: "p-1", ChallengeID: "ch-1", ContributorID: "alice",
		Amount: decimal.RequireFromString("50.00"), Currency: "USD",
		Method: domain.MethodFiat, Status: domain.PaymentPending,
		CreatedAt: "2026-03-01T00:00:00Z", UpdatedAt: "2026-03-01T00:00:00Z",
	}
	if err := r.InsertPayment(ctx, tx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	tx.Commit()

	now := "2026-03-02T00:00:00Z"
	tx, _ = conn.BeginTx(ctx, nil)
	if err := r.TransitionPaymentStatus(ctx, tx, "p-1", domain.PaymentPending, domain.PaymentCompleted, "wire-9", now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	tx.Commit()

	got, _ := r.GetPayment(ctx, "p-1")
	if got.Status != domain.PaymentCompleted || got.SettlementRef != "wire-9" {
		t.Fatalf("payment after settle: %+v", got)
	}

	tx, _ = conn.BeginTx(ctx, nil)
	err := r.TransitionPaymentStatus(ctx, tx, "p-1", domain.PaymentPending, domain.PaymentFailed, "", now)
	tx.Rollback()
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("re-settle: got %v, want ErrNotFound", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	hash := repo.HashAPIKey("secret-key")
	key := domain.APIKey{ID: "k-1", ActorID: "alice", Name: "ci", KeyHash: hash}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ActorID != "alice" || got.Name != "ci" {
		t.Fatalf("got %+v", got)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("wrong key: got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, hash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: got %v", err)
	}
}

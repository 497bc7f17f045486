package events_test

import (
	"errors"
	"testing"

	"bountyline/internal/events"
)

func TestCanonicalizeIsStable(t *testing.T) {
	s := events.Snapshot{
		"challenge_id": "ch-1",
		"total_amount": "1000.00",
		"recipients":   3,
		"nested":       map[string]any{"b": 2, "a": 1},
	}
	first, err := events.Canonicalize(s)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := events.Canonicalize(s)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("run %d produced different bytes:\n%s\n%s", i, first, again)
		}
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := events.Canonicalize(events.Snapshot{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"alpha":2,"mid":3,"zeta":1}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeNil(t *testing.T) {
	got, err := events.Canonicalize(nil)
	if err != nil {
		t.Fatalf("canonicalize nil: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("nil snapshot serialized to %s", got)
	}
}

func TestHashAndVerify(t *testing.T) {
	s := events.Snapshot{"challenge_id": "ch-1", "total_amount": "500.00"}
	hash, err := events.Hash(s)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length %d, want 64 hex chars", len(hash))
	}
	if err := events.Verify(s, hash); err != nil {
		t.Fatalf("verify same snapshot: %v", err)
	}
	// Key order in the literal must not matter.
	same := events.Snapshot{"total_amount": "500.00", "challenge_id": "ch-1"}
	if err := events.Verify(same, hash); err != nil {
		t.Fatalf("verify reordered snapshot: %v", err)
	}
}

func TestVerifyDetectsMutation(t *testing.T) {
	s := events.Snapshot{"challenge_id": "ch-1", "total_amount": "500.00"}
	hash, err := events.Hash(s)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s["total_amount"] = "500.01"
	err = events.Verify(s, hash)
	var intErr events.IntegrityError
	if !errors.As(err, &intErr) {
		t.Fatalf("got %v, want IntegrityError", err)
	}
	if intErr.Expected != hash {
		t.Fatalf("error carries wrong recorded hash: %s", intErr.Expected)
	}
	if intErr.Actual == hash {
		t.Fatal("recomputed hash did not change after mutation")
	}
}

func TestHashRejectsUnencodable(t *testing.T) {
	if _, err := events.Hash(events.Snapshot{"bad": make(chan int)}); err == nil {
		t.Fatal("expected error for unencodable snapshot value")
	}
}

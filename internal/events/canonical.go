package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Snapshot is the state captured alongside an event. Values must be
// JSON-encodable.
type Snapshot map[string]any

// IntegrityError reports a canonical-hash mismatch. It is evidence of
// tampering or corruption, distinct from ordinary validation failures.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("content hash mismatch: recorded %s, recomputed %s", e.Expected, e.Actual)
}

// Canonicalize serializes a snapshot with deterministic key ordering so the
// same logical snapshot always produces the same bytes. encoding/json sorts
// map keys at every nesting level, which is the whole requirement; keeping
// this a separate step lets it be tested independently of the digest.
func Canonicalize(s Snapshot) ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	return json.Marshal(s)
}

// Hash returns the hex-encoded sha256 of the canonical serialization.
func Hash(s Snapshot) (string, error) {
	data, err := Canonicalize(s)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the canonical hash of s and compares it to expected.
// A mismatch returns an IntegrityError; it must never be silently ignored.
func Verify(s Snapshot, expected string) error {
	actual, err := Hash(s)
	if err != nil {
		return err
	}
	if actual != expected {
		return IntegrityError{Expected: expected, Actual: actual}
	}
	return nil
}

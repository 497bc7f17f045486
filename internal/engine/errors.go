package engine

import "fmt"

// AuthorizationError means the acting identity may not perform the requested
// mutation. Never retried automatically.
type AuthorizationError struct {
	ActorID string
	Reason  string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s not permitted: %s", e.ActorID, e.Reason)
}

// StateConflictError means the challenge is not in the lifecycle state the
// operation requires. Completed distinguishes "already done" (an idempotent
// caller may treat it as success) from "not ready yet".
type StateConflictError struct {
	ChallengeID string
	Status      string
	Completed   bool
	Reason      string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("challenge %s in status %s: %s", e.ChallengeID, e.Status, e.Reason)
}

// ValidationError marks degenerate input: a caller-side sequencing bug, not a
// transient condition.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

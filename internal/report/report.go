// Package report assembles the data handed to the certificate renderer: the
// full audit trail, the fairness assessment, the payment summary, and any
// file integrity hashes. The renderer itself lives outside this module; the
// contract here is that everything handed over is internally consistent and
// hash-verifiable.
package report

import (
	"context"
	"fmt"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/events"
	"bountyline/internal/fairness"
)

// FileHash pairs an uploaded artifact with its recorded content hash.
type FileHash struct {
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
}

// Certificate is the complete, verifiable record of one distribution.
type Certificate struct {
	Challenge  domain.Challenge          `json:"challenge"`
	Summary    domain.PaymentSummary     `json:"payment_summary"`
	Assessment domain.FairnessAssessment `json:"fairness_assessment"`
	Trail      []domain.Event            `json:"event_trail"`
	FileHashes []FileHash                `json:"file_integrity_hashes"`
	// ThresholdPassed reports whether the fairness score clears the
	// configured compliance gate.
	ThresholdPassed bool `json:"threshold_passed"`
}

// Build assembles a certificate for a completed challenge. The summary is
// reconstructed from the persisted payments so it reflects durable state, not
// a recomputation of the split.
func Build(ctx context.Context, e engine.Engine, challengeID string, fileHashes []FileHash) (Certificate, error) {
	c, err := e.Repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return Certificate{}, err
	}
	if c.Status != domain.ChallengeCompleted {
		return Certificate{}, engine.StateConflictError{ChallengeID: c.ID, Status: c.Status, Reason: "no completed distribution to certify"}
	}
	payments, err := e.Repo.ListPayments(ctx, challengeID)
	if err != nil {
		return Certificate{}, err
	}
	splits := make([]domain.PaymentSplit, 0, len(payments))
	for _, p := range payments {
		splits = append(splits, domain.PaymentSplit{ContributorID: p.ContributorID, Amount: p.Amount})
	}
	summary := domain.PaymentSummary{
		ChallengeID:    c.ID,
		TotalAmount:    c.Bounty,
		Currency:       c.Currency,
		RecipientCount: len(payments),
		Splits:         splits,
	}
	trail, err := e.Events.Trail(ctx, "challenge", challengeID)
	if err != nil {
		return Certificate{}, err
	}
	if err := verifyCompletionEvent(trail, summary); err != nil {
		return Certificate{}, err
	}
	assessment := fairness.Assess(challengeID, splits)
	threshold := 0.0
	if e.Config != nil {
		threshold = e.Config.Fairness.Threshold
	}
	if fileHashes == nil {
		fileHashes = []FileHash{}
	}
	return Certificate{
		Challenge:       c,
		Summary:         summary,
		Assessment:      assessment,
		Trail:           trail,
		FileHashes:      fileHashes,
		ThresholdPassed: fairness.PassesThreshold(assessment.Score, threshold),
	}, nil
}

// verifyCompletionEvent recomputes the completion snapshot from durable state
// and checks it against the hash recorded at completion time. A mismatch is
// proof the challenge or payment rows changed after the fact.
func verifyCompletionEvent(trail []domain.Event, summary domain.PaymentSummary) error {
	for _, ev := range trail {
		if ev.Action != engine.ActionChallengeCompleted {
			continue
		}
		if err := events.Verify(engine.CompletionSnapshot(summary), ev.ContentHash); err != nil {
			return fmt.Errorf("completion event %d: %w", ev.ID, err)
		}
		return nil
	}
	return fmt.Errorf("challenge %s has no completion event in its trail", summary.ChallengeID)
}

package server

import (
	"bountyline/internal/domain"
	"bountyline/internal/report"
)

// Request payloads

type CreateChallengeRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	// Bounty is a decimal string at the currency's minor-unit precision,
	// e.g. "1000.00".
	Bounty string `json:"bounty"`
}

type CreateContributionRequest struct {
	ID            *string `json:"id,omitempty"`
	ContributorID string  `json:"contributor_id"`
	Category      string  `json:"category"`
	Summary       *string `json:"summary,omitempty"`
}

type SettlePaymentRequest struct {
	Status        string  `json:"status" enum:"completed,failed"`
	SettlementRef *string `json:"settlement_ref,omitempty"`
}

type CertificateRequest struct {
	FileHashes []report.FileHash `json:"file_integrity_hashes,omitempty"`
}

// Response payloads

type CompletionResponse struct {
	Challenge domain.Challenge      `json:"challenge"`
	Payments  []domain.Payment      `json:"payments"`
	Summary   domain.PaymentSummary `json:"payment_summary"`
}

type SplitPreviewResponse struct {
	ChallengeID string                `json:"challenge_id"`
	Splits      []domain.PaymentSplit `json:"splits"`
}

type eventList struct {
	Events []domain.Event `json:"events"`
}

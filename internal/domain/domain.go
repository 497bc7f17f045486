package domain

import "github.com/shopspring/decimal"

// Challenge statuses.
const (
	ChallengeOpen       = "open"
	ChallengeInProgress = "in_progress"
	ChallengeCompleted  = "completed"
	ChallengeClosed     = "closed"
)

// Payment statuses. Settlement owns transitions out of pending.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Payment methods.
const (
	MethodFiat   = "fiat"
	MethodCrypto = "crypto"
)

type Challenge struct {
	ID          string          `json:"id"`
	SponsorID   string          `json:"sponsor_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Bounty      decimal.Decimal `json:"bounty"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status" enum:"open,in_progress,completed,closed"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
	CompletedAt *string         `json:"completed_at,omitempty" format:"date-time"`
}

type Contribution struct {
	ID            string `json:"id"`
	ChallengeID   string `json:"challenge_id"`
	ContributorID string `json:"contributor_id"`
	Category      string `json:"category"`
	// Weight is assigned once at creation from the category weight table
	// and never changes afterwards.
	Weight    int    `json:"weight"`
	Summary   string `json:"summary,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PaymentSplit is a computed allocation; it is never persisted. One entry per
// contributor, with weights aggregated across that contributor's contributions.
// ContributionID is the lowest contribution id in the aggregated group.
type PaymentSplit struct {
	ContributorID  string          `json:"contributor_id"`
	ContributionID string          `json:"contribution_id"`
	Weight         int             `json:"weight"`
	Percentage     float64         `json:"percentage"`
	Amount         decimal.Decimal `json:"amount"`
}

type Payment struct {
	ID            string          `json:"id"`
	ChallengeID   string          `json:"challenge_id"`
	ContributorID string          `json:"contributor_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method" enum:"fiat,crypto"`
	Status        string          `json:"status" enum:"pending,completed,failed"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	UpdatedAt     string          `json:"updated_at" format:"date-time"`
}

// PaymentSummary is returned to the completing caller for immediate display.
type PaymentSummary struct {
	ChallengeID    string          `json:"challenge_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	RecipientCount int             `json:"recipient_count"`
	Splits         []PaymentSplit  `json:"splits"`
}

// Event is one immutable audit record. ContentHash, when present, is the
// canonical hash of the snapshot passed at emission time.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	ActorID     string `json:"actor_id"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	Action      string `json:"action"`
	ContentHash string `json:"content_hash,omitempty"`
	Metadata    string `json:"metadata_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// FairnessAssessment is the audit of one completed distribution.
type FairnessAssessment struct {
	ChallengeID string   `json:"challenge_id"`
	Gini        float64  `json:"gini_coefficient"`
	Score       float64  `json:"fairness_score"`
	Category    string   `json:"category" enum:"excellent,good,fair,poor,critical"`
	RedFlags    []string `json:"red_flags"`
	YellowFlags []string `json:"yellow_flags"`
	GreenFlags  []string `json:"green_flags"`
}

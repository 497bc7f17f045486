package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/events"
	"bountyline/internal/fairness"
	"bountyline/internal/repo"
	"bountyline/internal/split"
)

// Audit action labels.
const (
	ActionChallengeCreated   = "CHALLENGE_CREATED"
	ActionChallengeStarted   = "CHALLENGE_STARTED"
	ActionChallengeCompleted = "CHALLENGE_COMPLETED"
	ActionChallengeClosed    = "CHALLENGE_CLOSED"
	ActionContribution       = "CONTRIBUTION_RECORDED"
	ActionFairnessAssessed   = "FAIRNESS_ASSESSED"
	ActionPaymentSettled     = "PAYMENT_SETTLED"
	ActionPaymentFailed      = "PAYMENT_FAILED"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Log
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Log{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ChallengeCreateOptions are parameters for posting a challenge.
type ChallengeCreateOptions struct {
	ID          string
	Title       string
	Description string
	Bounty      decimal.Decimal
	SponsorID   string
}

func (e Engine) CreateChallenge(ctx context.Context, opts ChallengeCreateOptions) (domain.Challenge, error) {
	if e.Config == nil {
		return domain.Challenge{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Challenge{}, ValidationError{Reason: "title is required"}
	}
	if opts.SponsorID == "" {
		return domain.Challenge{}, ValidationError{Reason: "sponsor is required"}
	}
	if !opts.Bounty.IsPositive() {
		return domain.Challenge{}, ValidationError{Reason: "bounty must be positive"}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Challenge{
		ID:          id,
		SponsorID:   opts.SponsorID,
		Title:       opts.Title,
		Description: opts.Description,
		Bounty:      opts.Bounty,
		Currency:    e.Config.Payout.Currency,
		Status:      domain.ChallengeOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertChallenge(ctx, tx, c); err != nil {
		return domain.Challenge{}, fmt.Errorf("insert challenge: %w", err)
	}
	if _, err := e.Events.Append(ctx, tx, opts.SponsorID, "challenge", c.ID, ActionChallengeCreated, events.Snapshot{
		"bounty":   c.Bounty.String(),
		"currency": c.Currency,
		"status":   c.Status,
	}, nil); err != nil {
		return domain.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, err
	}
	return c, nil
}

// ContributionCreateOptions are parameters for recording work against a
// challenge. Weight is resolved here, once, from the category weight table.
type ContributionCreateOptions struct {
	ID            string
	ChallengeID   string
	ContributorID string
	Category      string
	Summary       string
}

func (e Engine) AddContribution(ctx context.Context, opts ContributionCreateOptions) (domain.Contribution, error) {
	if e.Config == nil {
		return domain.Contribution{}, errors.New("config not loaded")
	}
	if opts.ContributorID == "" {
		return domain.Contribution{}, ValidationError{Reason: "contributor is required"}
	}
	weight, ok := e.Config.Weight(opts.Category)
	if !ok {
		return domain.Contribution{}, ValidationError{Reason: fmt.Sprintf("unknown contribution category %q", opts.Category)}
	}
	c, err := e.Repo.GetChallenge(ctx, opts.ChallengeID)
	if err != nil {
		return domain.Contribution{}, err
	}
	switch c.Status {
	case domain.ChallengeCompleted, domain.ChallengeClosed:
		return domain.Contribution{}, StateConflictError{
			ChallengeID: c.ID,
			Status:      c.Status,
			Completed:   c.Status == domain.ChallengeCompleted,
			Reason:      "challenge no longer accepts contributions",
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	contribution := domain.Contribution{
		ID:            id,
		ChallengeID:   c.ID,
		ContributorID: opts.ContributorID,
		Category:      opts.Category,
		Weight:        weight,
		Summary:       opts.Summary,
		CreatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contribution{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertContribution(ctx, tx, contribution); err != nil {
		return domain.Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}
	// First contribution moves the challenge to in_progress. A concurrent
	// first contributor losing this guarded update is fine: the flip already
	// happened.
	if c.Status == domain.ChallengeOpen {
		err := e.Repo.TransitionChallengeStatus(ctx, tx, c.ID, domain.ChallengeOpen, domain.ChallengeInProgress, now, nil)
		if err == nil {
			if _, err := e.Events.Append(ctx, tx, opts.ContributorID, "challenge", c.ID, ActionChallengeStarted, nil, map[string]any{
				"first_contribution_id": contribution.ID,
			}); err != nil {
				return domain.Contribution{}, err
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Contribution{}, err
		}
	}
	if _, err := e.Events.Append(ctx, tx, opts.ContributorID, "contribution", contribution.ID, ActionContribution, events.Snapshot{
		"challenge_id":   c.ID,
		"contributor_id": contribution.ContributorID,
		"category":       contribution.Category,
		"weight":         contribution.Weight,
	}, nil); err != nil {
		return domain.Contribution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contribution{}, err
	}
	return contribution, nil
}

// PreviewSplit computes what each contributor would receive if the challenge
// completed now. Read-only: no payments, no events.
func (e Engine) PreviewSplit(ctx context.Context, challengeID string) ([]domain.PaymentSplit, error) {
	c, err := e.Repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	contributions, err := e.Repo.ListContributions(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	splits, err := split.Calculate(contributions, c.Bounty, e.minorExponent())
	if err != nil {
		return nil, wrapSplitErr(err)
	}
	return splits, nil
}

// CompletionResult is handed back to the completing caller.
type CompletionResult struct {
	Challenge domain.Challenge
	Payments  []domain.Payment
	Summary   domain.PaymentSummary
	Event     domain.Event
}

// CompleteChallenge performs the one-time, irreversible distribution: split
// the bounty, create pending payments, flip the challenge to completed, and
// append the audit event, all in one transaction. A concurrent second caller
// loses on the guarded status update and observes the conflict error.
func (e Engine) CompleteChallenge(ctx context.Context, challengeID, actorID string) (CompletionResult, error) {
	if e.Config == nil {
		return CompletionResult{}, errors.New("config not loaded")
	}
	c, err := e.Repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return CompletionResult{}, err
	}
	if actorID != c.SponsorID {
		return CompletionResult{}, AuthorizationError{ActorID: actorID, Reason: "only the sponsor can complete a challenge"}
	}
	switch c.Status {
	case domain.ChallengeInProgress:
	case domain.ChallengeCompleted:
		return CompletionResult{}, StateConflictError{ChallengeID: c.ID, Status: c.Status, Completed: true, Reason: "already completed"}
	default:
		return CompletionResult{}, StateConflictError{ChallengeID: c.ID, Status: c.Status, Reason: "not enough activity to complete"}
	}

	contributions, err := e.Repo.ListContributions(ctx, challengeID)
	if err != nil {
		return CompletionResult{}, err
	}
	splits, err := split.Calculate(contributions, c.Bounty, e.minorExponent())
	if err != nil {
		return CompletionResult{}, wrapSplitErr(err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompletionResult{}, err
	}
	defer tx.Rollback()

	// Serialization point: the losing concurrent completer fails here and no
	// payment rows from it ever land.
	if err := e.Repo.TransitionChallengeStatus(ctx, tx, c.ID, domain.ChallengeInProgress, domain.ChallengeCompleted, now, &now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CompletionResult{}, StateConflictError{ChallengeID: c.ID, Status: domain.ChallengeCompleted, Completed: true, Reason: "already completed"}
		}
		return CompletionResult{}, err
	}

	payments := make([]domain.Payment, 0, len(splits))
	for _, s := range splits {
		p := domain.Payment{
			ID:            uuid.New().String(),
			ChallengeID:   c.ID,
			ContributorID: s.ContributorID,
			Amount:        s.Amount,
			Currency:      c.Currency,
			Method:        e.Config.Payout.DefaultMethod,
			Status:        domain.PaymentPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
			return CompletionResult{}, fmt.Errorf("insert payment: %w", err)
		}
		payments = append(payments, p)
	}

	summary := domain.PaymentSummary{
		ChallengeID:    c.ID,
		TotalAmount:    c.Bounty,
		Currency:       c.Currency,
		RecipientCount: len(splits),
		Splits:         splits,
	}
	ev, err := e.Events.Append(ctx, tx, actorID, "challenge", c.ID, ActionChallengeCompleted, CompletionSnapshot(summary), nil)
	if err != nil {
		return CompletionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompletionResult{}, err
	}

	c.Status = domain.ChallengeCompleted
	c.UpdatedAt = now
	c.CompletedAt = &now
	return CompletionResult{Challenge: c, Payments: payments, Summary: summary, Event: ev}, nil
}

// CloseChallenge is the terminal no-distribution exit. Sponsor only.
func (e Engine) CloseChallenge(ctx context.Context, challengeID, actorID string) (domain.Challenge, error) {
	c, err := e.Repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.Challenge{}, err
	}
	if actorID != c.SponsorID {
		return domain.Challenge{}, AuthorizationError{ActorID: actorID, Reason: "only the sponsor can close a challenge"}
	}
	switch c.Status {
	case domain.ChallengeOpen, domain.ChallengeInProgress:
	default:
		return domain.Challenge{}, StateConflictError{
			ChallengeID: c.ID,
			Status:      c.Status,
			Completed:   c.Status == domain.ChallengeCompleted,
			Reason:      "challenge already in a terminal state",
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.TransitionChallengeStatus(ctx, tx, c.ID, c.Status, domain.ChallengeClosed, now, nil); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Challenge{}, StateConflictError{ChallengeID: c.ID, Status: c.Status, Reason: "challenge state changed concurrently"}
		}
		return domain.Challenge{}, err
	}
	if _, err := e.Events.Append(ctx, tx, actorID, "challenge", c.ID, ActionChallengeClosed, nil, map[string]any{"from_status": c.Status}); err != nil {
		return domain.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, err
	}
	c.Status = domain.ChallengeClosed
	c.UpdatedAt = now
	return c, nil
}

// AuditFairness assesses a completed distribution from its persisted payments
// and logs the assessment as an event.
func (e Engine) AuditFairness(ctx context.Context, challengeID, actorID string) (domain.FairnessAssessment, error) {
	c, err := e.Repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.FairnessAssessment{}, err
	}
	if c.Status != domain.ChallengeCompleted {
		return domain.FairnessAssessment{}, StateConflictError{ChallengeID: c.ID, Status: c.Status, Reason: "no distribution to audit"}
	}
	payments, err := e.Repo.ListPayments(ctx, challengeID)
	if err != nil {
		return domain.FairnessAssessment{}, err
	}
	splits := make([]domain.PaymentSplit, 0, len(payments))
	for _, p := range payments {
		splits = append(splits, domain.PaymentSplit{ContributorID: p.ContributorID, Amount: p.Amount})
	}
	assessment := fairness.Assess(challengeID, splits)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FairnessAssessment{}, err
	}
	defer tx.Rollback()
	if _, err := e.Events.Append(ctx, tx, actorID, "challenge", c.ID, ActionFairnessAssessed, events.Snapshot{
		"challenge_id":      challengeID,
		"gini_coefficient":  assessment.Gini,
		"fairness_score":    assessment.Score,
		"category":          assessment.Category,
		"red_flag_count":    len(assessment.RedFlags),
		"yellow_flag_count": len(assessment.YellowFlags),
		"green_flag_count":  len(assessment.GreenFlags),
	}, nil); err != nil {
		return domain.FairnessAssessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FairnessAssessment{}, err
	}
	return assessment, nil
}

// SettlePayment applies an external settlement outcome to a pending payment.
func (e Engine) SettlePayment(ctx context.Context, paymentID, status, settlementRef, actorID string) (domain.Payment, error) {
	p, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	var action string
	switch status {
	case domain.PaymentCompleted:
		action = ActionPaymentSettled
	case domain.PaymentFailed:
		action = ActionPaymentFailed
	default:
		return domain.Payment{}, ValidationError{Reason: fmt.Sprintf("settlement status must be %s or %s", domain.PaymentCompleted, domain.PaymentFailed)}
	}
	if p.Status != domain.PaymentPending {
		return domain.Payment{}, ValidationError{Reason: fmt.Sprintf("payment %s is %s, not pending", p.ID, p.Status)}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.TransitionPaymentStatus(ctx, tx, p.ID, domain.PaymentPending, status, settlementRef, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Payment{}, ValidationError{Reason: fmt.Sprintf("payment %s settled concurrently", p.ID)}
		}
		return domain.Payment{}, err
	}
	if _, err := e.Events.Append(ctx, tx, actorID, "payment", p.ID, action, events.Snapshot{
		"payment_id":     p.ID,
		"challenge_id":   p.ChallengeID,
		"amount":         p.Amount.String(),
		"status":         status,
		"settlement_ref": settlementRef,
	}, nil); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	p.Status = status
	p.SettlementRef = settlementRef
	p.UpdatedAt = now
	return p, nil
}

// CompletionSnapshot is the snapshot hashed into the CHALLENGE_COMPLETED
// event. It is enough to recompute the split summary later, and anything that
// re-verifies the hash must rebuild exactly this shape.
func CompletionSnapshot(summary domain.PaymentSummary) events.Snapshot {
	return events.Snapshot{
		"challenge_id":    summary.ChallengeID,
		"total_amount":    summary.TotalAmount.String(),
		"currency":        summary.Currency,
		"recipient_count": summary.RecipientCount,
	}
}

func (e Engine) minorExponent() int32 {
	if e.Config == nil {
		return 2
	}
	return e.Config.Payout.MinorExponent
}

func wrapSplitErr(err error) error {
	if errors.Is(err, split.ErrNoContributions) || errors.Is(err, split.ErrZeroWeight) {
		return ValidationError{Reason: err.Error()}
	}
	return err
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const challengeCols = `id,sponsor_id,title,COALESCE(description,'') AS description,bounty,currency,status,created_at,updated_at,completed_at`

func scanChallenge(row *sql.Row) (domain.Challenge, error) {
	var c domain.Challenge
	var bounty string
	var completedAt sql.NullString
	err := row.Scan(&c.ID, &c.SponsorID, &c.Title, &c.Description, &bounty, &c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Bounty, err = decimal.NewFromString(bounty)
	if err != nil {
		return c, fmt.Errorf("challenge %s has malformed bounty %q: %w", c.ID, bounty, err)
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.String
	}
	return c, nil
}

func (r Repo) InsertChallenge(ctx context.Context, tx *sql.Tx, c domain.Challenge) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO challenges(id,sponsor_id,title,description,bounty,currency,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SponsorID, c.Title, nullable(c.Description), c.Bounty.String(), c.Currency, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	return scanChallenge(r.DB.QueryRowContext(ctx, `SELECT `+challengeCols+` FROM challenges WHERE id=?`, id))
}

func (r Repo) ListChallenges(ctx context.Context, status string) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeCols + ` FROM challenges`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		var bounty string
		var completedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.SponsorID, &c.Title, &c.Description, &bounty, &c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		c.Bounty, err = decimal.NewFromString(bounty)
		if err != nil {
			return nil, fmt.Errorf("challenge %s has malformed bounty %q: %w", c.ID, bounty, err)
		}
		if completedAt.Valid {
			c.CompletedAt = &completedAt.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// TransitionChallengeStatus flips a challenge from one status to another
// inside tx. The guarded UPDATE is the serialization point for completion:
// of two concurrent completers, exactly one observes RowsAffected==1; the
// other gets ErrNotFound here and surfaces a conflict upstream.
func (r Repo) TransitionChallengeStatus(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, updatedAt string, completedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE challenges SET status=?, updated_at=?, completed_at=COALESCE(?, completed_at) WHERE id=? AND status=?`,
		toStatus, updatedAt, completedAtArg(completedAt), id, fromStatus)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func completedAtArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) InsertContribution(ctx context.Context, tx *sql.Tx, c domain.Contribution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contributions(id,challenge_id,contributor_id,category,weight,summary,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ChallengeID, c.ContributorID, c.Category, c.Weight, nullable(c.Summary), c.CreatedAt)
	return err
}

func (r Repo) ListContributions(ctx context.Context, challengeID string) ([]domain.Contribution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,challenge_id,contributor_id,category,weight,COALESCE(summary,''),created_at FROM contributions WHERE challenge_id=? ORDER BY created_at ASC, id ASC`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contribution
	for rows.Next() {
		var c domain.Contribution
		if err := rows.Scan(&c.ID, &c.ChallengeID, &c.ContributorID, &c.Category, &c.Weight, &c.Summary, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountContributions(ctx context.Context, challengeID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM contributions WHERE challenge_id=?`, challengeID).Scan(&n)
	return n, err
}

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payments(id,challenge_id,contributor_id,amount,currency,method,status,settlement_ref,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ChallengeID, p.ContributorID, p.Amount.String(), p.Currency, p.Method, p.Status, nullable(p.SettlementRef), p.CreatedAt, p.UpdatedAt)
	return err
}

const paymentCols = `id,challenge_id,contributor_id,amount,currency,method,status,COALESCE(settlement_ref,''),created_at,updated_at`

func (r Repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id=?`, id)
	var p domain.Payment
	var amount string
	err := row.Scan(&p.ID, &p.ChallengeID, &p.ContributorID, &amount, &p.Currency, &p.Method, &p.Status, &p.SettlementRef, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return p, fmt.Errorf("payment %s has malformed amount %q: %w", p.ID, amount, err)
	}
	return p, nil
}

func (r Repo) ListPayments(ctx context.Context, challengeID string) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE challenge_id=? ORDER BY CAST(amount AS REAL) DESC, id ASC`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		var p domain.Payment
		var amount string
		if err := rows.Scan(&p.ID, &p.ChallengeID, &p.ContributorID, &amount, &p.Currency, &p.Method, &p.Status, &p.SettlementRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("payment %s has malformed amount %q: %w", p.ID, amount, err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// TransitionPaymentStatus flips a payment out of its current status with the
// same guarded-update discipline as challenges.
func (r Repo) TransitionPaymentStatus(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, settlementRef, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET status=?, settlement_ref=COALESCE(?, settlement_ref), updated_at=? WHERE id=? AND status=?`,
		toStatus, nullable(settlementRef), updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package bountylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bountyline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Challenge represents the API challenge model.
type Challenge struct {
	ID          string  `json:"id"`
	SponsorID   string  `json:"sponsor_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Bounty      string  `json:"bounty"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Contribution represents a recorded unit of work.
type Contribution struct {
	ID            string `json:"id"`
	ChallengeID   string `json:"challenge_id"`
	ContributorID string `json:"contributor_id"`
	Category      string `json:"category"`
	Weight        int    `json:"weight"`
	Summary       string `json:"summary,omitempty"`
}

// PaymentSplit is one computed allocation.
type PaymentSplit struct {
	ContributorID  string  `json:"contributor_id"`
	ContributionID string  `json:"contribution_id"`
	Weight         int     `json:"weight"`
	Percentage     float64 `json:"percentage"`
	Amount         string  `json:"amount"`
}

// Payment represents a payout record.
type Payment struct {
	ID            string `json:"id"`
	ChallengeID   string `json:"challenge_id"`
	ContributorID string `json:"contributor_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	SettlementRef string `json:"settlement_ref,omitempty"`
}

// PaymentSummary is the distribution total returned on completion.
type PaymentSummary struct {
	ChallengeID    string         `json:"challenge_id"`
	TotalAmount    string         `json:"total_amount"`
	Currency       string         `json:"currency"`
	RecipientCount int            `json:"recipient_count"`
	Splits         []PaymentSplit `json:"splits"`
}

// CompletionResult is the response to a complete call.
type CompletionResult struct {
	Challenge Challenge      `json:"challenge"`
	Payments  []Payment      `json:"payments"`
	Summary   PaymentSummary `json:"summary"`
}

// FairnessAssessment is the audit of one completed distribution.
type FairnessAssessment struct {
	ChallengeID string   `json:"challenge_id"`
	Gini        float64  `json:"gini_coefficient"`
	Score       float64  `json:"fairness_score"`
	Category    string   `json:"category"`
	RedFlags    []string `json:"red_flags"`
	YellowFlags []string `json:"yellow_flags"`
	GreenFlags  []string `json:"green_flags"`
}

// Event represents a log entry.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	ActorID     string `json:"actor_id"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	Action      string `json:"action"`
	ContentHash string `json:"content_hash,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateChallenge posts a challenge. Bounty is a decimal string.
func (c *Client) CreateChallenge(ctx context.Context, title, bounty string) (Challenge, error) {
	body := map[string]any{
		"title":  title,
		"bounty": bounty,
	}
	var resp Challenge
	err := c.do(ctx, http.MethodPost, "v0/challenges", body, &resp)
	return resp, err
}

// GetChallenge fetches a challenge by id.
func (c *Client) GetChallenge(ctx context.Context, id string) (Challenge, error) {
	var resp Challenge
	err := c.do(ctx, http.MethodGet, c.challengePath(id, ""), nil, &resp)
	return resp, err
}

// AddContribution records a unit of work on a challenge.
func (c *Client) AddContribution(ctx context.Context, challengeID, contributorID, category, summary string) (Contribution, error) {
	body := map[string]any{
		"contributor_id": contributorID,
		"category":       category,
	}
	if summary != "" {
		body["summary"] = summary
	}
	var resp Contribution
	err := c.do(ctx, http.MethodPost, c.challengePath(challengeID, "contributions"), body, &resp)
	return resp, err
}

// PreviewSplit computes the would-be allocation without side effects.
func (c *Client) PreviewSplit(ctx context.Context, challengeID string) ([]PaymentSplit, error) {
	var resp struct {
		Splits []PaymentSplit `json:"splits"`
	}
	err := c.do(ctx, http.MethodGet, c.challengePath(challengeID, "split-preview"), nil, &resp)
	return resp.Splits, err
}

// Complete finalizes a challenge and distributes its bounty.
func (c *Client) Complete(ctx context.Context, challengeID string) (CompletionResult, error) {
	var resp CompletionResult
	err := c.do(ctx, http.MethodPost, c.challengePath(challengeID, "complete"), nil, &resp)
	return resp, err
}

// AuditFairness runs the fairness audit on a completed challenge.
func (c *Client) AuditFairness(ctx context.Context, challengeID string) (FairnessAssessment, error) {
	var resp FairnessAssessment
	err := c.do(ctx, http.MethodPost, c.challengePath(challengeID, "fairness-audit"), nil, &resp)
	return resp, err
}

// Payments lists payments for a challenge.
func (c *Client) Payments(ctx context.Context, challengeID string) ([]Payment, error) {
	var resp struct {
		Payments []Payment `json:"payments"`
	}
	err := c.do(ctx, http.MethodGet, c.challengePath(challengeID, "payments"), nil, &resp)
	return resp.Payments, err
}

// SettlePayment reports an external settlement outcome.
func (c *Client) SettlePayment(ctx context.Context, paymentID, status, settlementRef string) (Payment, error) {
	body := map[string]any{"status": status}
	if settlementRef != "" {
		body["settlement_ref"] = settlementRef
	}
	var resp Payment
	endpoint := fmt.Sprintf("v0/payments/%s/settlement", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Trail returns the chronological audit trail for one entity.
func (c *Client) Trail(ctx context.Context, entityKind, entityID string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	endpoint := fmt.Sprintf("v0/events/%s/%s", url.PathEscape(entityKind), url.PathEscape(entityID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// RecentEvents returns system-wide recent events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// VerifyHash checks a snapshot against a recorded content hash.
func (c *Client) VerifyHash(ctx context.Context, snapshot map[string]any, expectedHash string) (bool, error) {
	body := map[string]any{
		"snapshot":      snapshot,
		"expected_hash": expectedHash,
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.do(ctx, http.MethodPost, "v0/events/verify", body, &resp)
	return resp.Valid, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) challengePath(id, sub string) string {
	p := fmt.Sprintf("v0/challenges/%s", url.PathEscape(id))
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

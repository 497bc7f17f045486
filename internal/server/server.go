package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/events"
	"bountyline/internal/repo"
	"bountyline/internal/report"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"state_conflict"`
	Message string         `json:"message" example:"challenge already completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bountyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerChallenges(group, cfg.Engine)
	registerContributions(group, cfg.Engine)
	registerDistribution(group, cfg.Engine)
	registerFairness(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCertificate(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var authErr engine.AuthorizationError
	if errors.As(err, &authErr) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"actor_id": authErr.ActorID})
	}
	var stateErr engine.StateConflictError
	if errors.As(err, &stateErr) {
		if stateErr.Completed {
			return newAPIError(http.StatusConflict, "already_completed", err.Error(), map[string]any{"status": stateErr.Status})
		}
		return newAPIError(http.StatusConflict, "state_conflict", err.Error(), map[string]any{"status": stateErr.Status})
	}
	var valErr engine.ValidationError
	if errors.As(err, &valErr) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	var intErr events.IntegrityError
	if errors.As(err, &intErr) {
		return newAPIError(http.StatusConflict, "integrity_violation", err.Error(), map[string]any{
			"recorded":   intErr.Expected,
			"recomputed": intErr.Actual,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerChallenges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-challenge",
		Method:        http.MethodPost,
		Path:          "/challenges",
		Summary:       "Post a challenge",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateChallengeRequest
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bounty, err := decimal.NewFromString(input.Body.Bounty)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "bounty must be a decimal string", nil)
		}
		opts := engine.ChallengeCreateOptions{
			Title:     input.Body.Title,
			Bounty:    bounty,
			SponsorID: actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		c, err := e.CreateChallenge(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-challenges",
		Method:      http.MethodGet,
		Path:        "/challenges",
		Summary:     "List challenges",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"open,in_progress,completed,closed"`
	}) (*struct {
		Body struct {
			Challenges []domain.Challenge `json:"challenges"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.ListChallenges(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Challenges []domain.Challenge `json:"challenges"`
			} `json:"body"`
		}{}
		out.Body.Challenges = items
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-challenge",
		Method:      http.MethodGet,
		Path:        "/challenges/{challenge_id}",
		Summary:     "Get challenge",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		c, err := e.Repo.GetChallenge(ctx, input.ChallengeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-challenge",
		Method:      http.MethodPost,
		Path:        "/challenges/{challenge_id}/close",
		Summary:     "Close a challenge without distribution",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CloseChallenge(ctx, input.ChallengeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})
}

func registerContributions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-contribution",
		Method:        http.MethodPost,
		Path:          "/challenges/{challenge_id}/contributions",
		Summary:       "Record a contribution",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
		Body        CreateContributionRequest
	}) (*struct {
		Body domain.Contribution `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		opts := engine.ContributionCreateOptions{
			ChallengeID:   input.ChallengeID,
			ContributorID: input.Body.ContributorID,
			Category:      input.Body.Category,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Summary != nil {
			opts.Summary = *input.Body.Summary
		}
		c, err := e.AddContribution(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contribution `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contributions",
		Method:      http.MethodGet,
		Path:        "/challenges/{challenge_id}/contributions",
		Summary:     "List contributions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body struct {
			Contributions []domain.Contribution `json:"contributions"`
		} `json:"body"`
	}, error) {
		if _, err := e.Repo.GetChallenge(ctx, input.ChallengeID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListContributions(ctx, input.ChallengeID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Contributions []domain.Contribution `json:"contributions"`
			} `json:"body"`
		}{}
		out.Body.Contributions = items
		return out, nil
	})
}

func registerDistribution(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-split",
		Method:      http.MethodGet,
		Path:        "/challenges/{challenge_id}/split-preview",
		Summary:     "Preview the bounty split",
		Description: "Computes what each contributor would receive if the challenge completed now. Creates no payments and no events.",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body SplitPreviewResponse `json:"body"`
	}, error) {
		splits, err := e.PreviewSplit(ctx, input.ChallengeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SplitPreviewResponse `json:"body"`
		}{Body: SplitPreviewResponse{ChallengeID: input.ChallengeID, Splits: splits}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-challenge",
		Method:      http.MethodPost,
		Path:        "/challenges/{challenge_id}/complete",
		Summary:     "Complete a challenge and distribute its bounty",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.CompleteChallenge(ctx, input.ChallengeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: CompletionResponse{
			Challenge: result.Challenge,
			Payments:  result.Payments,
			Summary:   result.Summary,
		}}, nil
	})
}

func registerFairness(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-fairness",
		Method:      http.MethodPost,
		Path:        "/challenges/{challenge_id}/fairness-audit",
		Summary:     "Audit a completed distribution for fairness",
		Description: "Computes the Gini coefficient, flags, and fairness score for a completed challenge and records the assessment in the audit trail.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body domain.FairnessAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AuditFairness(ctx, input.ChallengeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FairnessAssessment `json:"body"`
		}{Body: a}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/challenges/{challenge_id}/payments",
		Summary:     "List payments for a challenge",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
	}) (*struct {
		Body struct {
			Payments []domain.Payment `json:"payments"`
		} `json:"body"`
	}, error) {
		if _, err := e.Repo.GetChallenge(ctx, input.ChallengeID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPayments(ctx, input.ChallengeID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Payments []domain.Payment `json:"payments"`
			} `json:"body"`
		}{}
		out.Body.Payments = items
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "settle-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/settlement",
		Summary:     "Apply an external settlement outcome",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
		Body      SettlePaymentRequest
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ref := ""
		if input.Body.SettlementRef != nil {
			ref = *input.Body.SettlementRef
		}
		p, err := e.SettlePayment(ctx, input.PaymentID, input.Body.Status, ref, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: p}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "event-trail",
		Method:      http.MethodGet,
		Path:        "/events/{entity_kind}/{entity_id}",
		Summary:     "Chronological audit trail for one entity",
	}, func(ctx context.Context, input *struct {
		EntityKind string `path:"entity_kind" enum:"challenge,contribution,payment"`
		EntityID   string `path:"entity_id"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.Events.Trail(ctx, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Events: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "events-by-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/events",
		Summary:     "Recent events by one actor",
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.Events.ByActor(ctx, input.ActorID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Events: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "System-wide recent events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.Events.Recent(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Events: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-hash",
		Method:      http.MethodPost,
		Path:        "/events/verify",
		Summary:     "Verify a snapshot against a recorded content hash",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Snapshot     map[string]any `json:"snapshot"`
			ExpectedHash string         `json:"expected_hash"`
		}
	}) (*struct {
		Body struct {
			Valid bool `json:"valid"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Valid bool `json:"valid"`
			} `json:"body"`
		}{}
		err := events.Verify(events.Snapshot(input.Body.Snapshot), input.Body.ExpectedHash)
		var intErr events.IntegrityError
		switch {
		case err == nil:
			out.Body.Valid = true
		case errors.As(err, &intErr):
			out.Body.Valid = false
		default:
			return nil, handleError(err)
		}
		return out, nil
	})
}

func registerCertificate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "build-certificate",
		Method:      http.MethodPost,
		Path:        "/challenges/{challenge_id}/certificate",
		Summary:     "Assemble the verifiable completion certificate",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ChallengeID string `path:"challenge_id"`
		Body        CertificateRequest
	}) (*struct {
		Body report.Certificate `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cert, err := report.Build(ctx, e, input.ChallengeID, input.Body.FileHashes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body report.Certificate `json:"body"`
		}{Body: cert}, nil
	})
}

func newKeyID() string {
	return "key-" + uuid.NewString()
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for an actor",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string  `json:"actor_id"`
			Name    *string `json:"name,omitempty"`
			Key     string  `json:"key"`
		}
	}) (*struct {
		Body domain.APIKey `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		key := domain.APIKey{
			ID:      newKeyID(),
			ActorID: input.Body.ActorID,
			KeyHash: repo.HashAPIKey(input.Body.Key),
		}
		if input.Body.Name != nil {
			key.Name = *input.Body.Name
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.APIKey `json:"body"`
		}{Body: key}, nil
	})
}

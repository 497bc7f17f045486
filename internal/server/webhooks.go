package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
)

const webhookPollInterval = 2 * time.Second

// startWebhookDispatcher forwards new audit events to the configured
// webhook endpoints. Settlement collaborators subscribe to
// CHALLENGE_COMPLETED to learn which payments need settling, then report
// outcomes back through the settlement endpoint.
func startWebhookDispatcher(e engine.Engine) {
	if e.Config == nil {
		return
	}
	var active []config.WebhookConfig
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if hook.URL == "" {
			continue
		}
		active = append(active, hook)
	}
	if len(active) == 0 {
		return
	}
	go runWebhookDispatcher(e, active)
}

func runWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig) {
	ctx := context.Background()
	cursor, err := e.Events.LatestID(ctx)
	if err != nil {
		log.Printf("webhooks: cursor init failed: %v", err)
		return
	}
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		batch, err := e.Events.After(ctx, 100, cursor)
		if err != nil {
			log.Printf("webhooks: poll failed: %v", err)
			continue
		}
		for _, ev := range batch {
			for _, hook := range hooks {
				if !hookMatches(hook, ev.Action) {
					continue
				}
				if err := deliverWebhook(hook, ev); err != nil {
					log.Printf("webhooks: delivery to %s failed: %v", hook.URL, err)
				}
			}
			cursor = ev.ID
		}
	}
}

func hookMatches(hook config.WebhookConfig, action string) bool {
	if len(hook.Actions) == 0 {
		return true
	}
	for _, a := range hook.Actions {
		if a == action {
			return true
		}
	}
	return false
}

type webhookPayload struct {
	DeliveryID string       `json:"delivery_id"`
	Event      domain.Event `json:"event"`
}

func deliverWebhook(hook config.WebhookConfig, ev domain.Event) error {
	body, err := json.Marshal(webhookPayload{
		DeliveryID: uuid.NewString(),
		Event:      ev,
	})
	if err != nil {
		return err
	}
	timeout := time.Duration(hook.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bountyline-Event", ev.Action)
	if hook.Secret != "" {
		mac := hmac.New(sha256.New, []byte(hook.Secret))
		mac.Write(body)
		req.Header.Set("X-Bountyline-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &webhookStatusError{status: resp.StatusCode}
	}
	return nil
}

type webhookStatusError struct {
	status int
}

func (e *webhookStatusError) Error() string {
	return "unexpected status " + http.StatusText(e.status)
}

package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shoplight/pos-backend/internal/store"
)

const (
	signatureHeader              = "x-square-hmacsha256-signature"
	eventTerminalCheckoutUpdated = "terminal.checkout.updated"
)

// VerifySignature checks the webhook HMAC-SHA256 signature Square computes
// over the notification URL concatenated with the raw request body.
func VerifySignature(signatureKey, notificationURL, body, signature string) bool {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write([]byte(body))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type rawCheckout struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	PaymentID    string `json:"payment_id"`
	ErrorMessage string `json:"error_message"`
}

type webhookEvent struct {
	Type string `json:"type"`
	Data *struct {
		Object *struct {
			Checkout *rawCheckout `json:"checkout"`
		} `json:"object"`
		Checkout *rawCheckout `json:"checkout"`
	} `json:"data"`
	Checkout *rawCheckout `json:"checkout"`
}

// checkout digs the checkout object out of the possible payload locations.
// The vendor payload shape has not been stable across API versions.
func (e *webhookEvent) checkout() *rawCheckout {
	if e.Data != nil {
		if e.Data.Object != nil && e.Data.Object.Checkout != nil {
			return e.Data.Object.Checkout
		}
		if e.Data.Checkout != nil {
			return e.Data.Checkout
		}
	}
	return e.Checkout
}

// parseWebhookEvents accepts both the single-event body and the
// array-of-events batch shape.
func parseWebhookEvents(payload []byte) ([]webhookEvent, error) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}

	if len(envelope.Data) > 0 && bytes.HasPrefix(bytes.TrimSpace(envelope.Data), []byte("[")) {
		var events []webhookEvent
		if err := json.Unmarshal(envelope.Data, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	if envelope.Type == "" {
		return nil, nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return []webhookEvent{event}, nil
}

// WebhookHandler processes vendor status pushes. Signature failures are
// rejected before any business logic runs; per-event payload problems are
// logged and skipped so one bad event cannot force the vendor to retry the
// whole batch.
func (s *Service) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebhookSignatureKey == "" {
			log.Printf("payments: webhook signature key not configured")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook signature key not configured"})
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			log.Printf("payments: missing webhook signature header")
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing webhook signature"})
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "read body"})
			return
		}

		if !VerifySignature(s.cfg.WebhookSignatureKey, s.notificationURL(), string(payload), signature) {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook signature"})
			return
		}

		events, err := parseWebhookEvents(payload)
		if err != nil {
			log.Printf("payments: parse webhook payload: %v", err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process webhook"})
			return
		}

		for _, event := range events {
			if event.Type != eventTerminalCheckoutUpdated {
				continue
			}
			s.applyWebhookEvent(r.Context(), event)
		}

		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (s *Service) applyWebhookEvent(ctx context.Context, event webhookEvent) {
	checkout := event.checkout()
	if checkout == nil {
		log.Printf("payments: missing checkout data in webhook event")
		return
	}

	status := models.CheckoutStatus(checkout.Status)
	if checkout.ID == "" || !status.Valid() {
		log.Printf("payments: invalid checkout data in webhook event: id=%q status=%q", checkout.ID, checkout.Status)
		return
	}

	upd := store.StatusUpdate{
		CheckoutID:   checkout.ID,
		Status:       status,
		PaymentID:    checkout.PaymentID,
		ErrorMessage: checkout.ErrorMessage,
	}
	if status.Terminal() {
		now := s.now()
		upd.CompletedAt = &now
	}

	if _, err := s.store.ApplyCheckoutStatus(ctx, upd); err != nil {
		switch {
		case errors.Is(err, database.ErrCheckoutNotFound):
			log.Printf("payments: webhook for unknown checkout %s", checkout.ID)
		case errors.Is(err, database.ErrStaleCheckoutStatus):
			log.Printf("payments: ignoring stale webhook status %s for checkout %s", status, checkout.ID)
		default:
			log.Printf("payments: apply webhook status for checkout %s: %v", checkout.ID, err)
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("payments: encode response: %v", err)
	}
}

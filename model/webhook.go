package model

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Delivery lifecycle statuses. Success and failed are terminal.
const (
	DeliveryPending  = "pending"
	DeliveryRetrying = "retrying"
	DeliverySuccess  = "success"
	DeliveryFailed   = "failed"
)

// Webhook is a subscription of one external endpoint to a set of event names.
// FailureCount is cumulative across deliveries; crossing the configured
// threshold deactivates the webhook.
type Webhook struct {
	WebhookID      string     `json:"webhook_id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Events         []string   `json:"events"`
	IsActive       bool       `json:"is_active"`
	FailureCount   int        `json:"failure_count"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Subscribed reports whether the webhook wants the given event.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery is one event occurrence bound for one webhook. Payload is
// snapshotted at dispatch time and never rewritten; the signature is always
// computed over these exact bytes.
type WebhookDelivery struct {
	DeliveryID   string          `json:"delivery_id"`
	WebhookID    string          `json:"webhook_id"`
	DocumentID   string          `json:"document_id,omitempty"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	Attempt      int             `json:"attempt"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	ResponseCode int             `json:"response_code,omitempty"`
	ResponseBody string          `json:"response_body,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
}

// NewWebhookSecret generates a random signing secret. Rotating a webhook's
// secret to a fresh one invalidates signatures computed with the old value
// immediately, since signing always reads the current secret.
func NewWebhookSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

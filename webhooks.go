/*
Copyright 2025 Dfewatch Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dfewatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dfewatch/dfewatch/model"
)

// Event names carried by webhook deliveries.
const (
	EventDocumentCreated   = "document.created"
	EventDocumentCancelled = "document.cancelled"
	EventDocumentDenied    = "document.denied"
	EventAlertFired        = "alert.fired"
)

// EventPayload is the wire format of a webhook body. The payload is
// serialized once at dispatch time and stored with the delivery; signatures
// are always computed over those stored bytes, so retries and secret
// rotations can never produce a signature that does not match the body.
type EventPayload struct {
	Event     string      `json:"event"`
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Data      interface{} `json:"data"`
}

// BuildEventPayload serializes an event envelope with a fresh event id.
func BuildEventPayload(event string, data interface{}) ([]byte, error) {
	payload := EventPayload{
		Event:     event,
		ID:        model.GenerateUUIDWithSuffix("evt"),
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	return json.Marshal(payload)
}

// DispatchEvent fans an event out to every active webhook of the organization
// that subscribes to it. Dispatch only writes delivery rows; no network I/O
// happens here, the delivery worker picks the rows up asynchronously. An
// organization with no matching webhooks is a successful no-op.
func (l *Dfewatch) DispatchEvent(ctx context.Context, organizationID, event, documentID string, data interface{}) error {
	webhooks, err := l.datasource.ListActiveWebhooks(organizationID)
	if err != nil {
		return err
	}

	dispatched := 0
	for _, w := range webhooks {
		if !w.Subscribed(event) {
			continue
		}
		payload, err := BuildEventPayload(event, data)
		if err != nil {
			return err
		}
		_, err = l.datasource.CreateDelivery(model.WebhookDelivery{
			WebhookID:  w.WebhookID,
			DocumentID: documentID,
			Event:      event,
			Payload:    payload,
		})
		if err != nil {
			return err
		}
		dispatched++
	}

	if dispatched > 0 {
		logrus.WithFields(logrus.Fields{
			"organization_id": organizationID,
			"event":           event,
			"deliveries":      dispatched,
		}).Info("dispatched webhook event")
		if l.queue != nil {
			if err := l.queue.EnqueueFlushDeliveries(); err != nil {
				logrus.WithError(err).Warn("could not nudge delivery worker, cron will pick up")
			}
		}
	}
	return nil
}

// CreateWebhook registers an endpoint subscription. A fresh signing secret is
// generated when the caller does not bring one; the secret is returned once
// here and redacted everywhere else.
func (l *Dfewatch) CreateWebhook(w model.Webhook) (model.Webhook, error) {
	w.IsActive = true
	return l.datasource.CreateWebhook(w)
}

// GetWebhook retrieves a single webhook by id.
func (l *Dfewatch) GetWebhook(id string) (*model.Webhook, error) {
	return l.datasource.GetWebhook(id)
}

// ListWebhooks returns all webhooks of one organization, active or not.
func (l *Dfewatch) ListWebhooks(organizationID string) ([]model.Webhook, error) {
	return l.datasource.ListWebhooks(organizationID)
}

// UpdateWebhook rewrites a webhook's endpoint, event list and active flag.
// Re-activating a tripped webhook resets its failure count.
func (l *Dfewatch) UpdateWebhook(w model.Webhook) error {
	return l.datasource.UpdateWebhook(w)
}

// RotateWebhookSecret replaces the signing secret and returns the new value.
// Deliveries signed after the rotation use the new secret immediately.
func (l *Dfewatch) RotateWebhookSecret(id string) (string, error) {
	secret := model.NewWebhookSecret()
	if err := l.datasource.RotateWebhookSecret(id, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// GetDelivery retrieves a single delivery attempt record by id.
func (l *Dfewatch) GetDelivery(id string) (*model.WebhookDelivery, error) {
	return l.datasource.GetDelivery(id)
}

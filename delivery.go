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
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/request"
	"github.com/dfewatch/dfewatch/model"
)

const deliveryUserAgent = "Dfewatch-Webhooks/1.0"

// responseBodyLimit caps how much of an endpoint's response is stored with a
// delivery attempt.
const responseBodyLimit = 4 * 1024

// SignPayload computes the delivery signature: HMAC-SHA256 over the exact
// payload bytes, hex-encoded with the scheme prefix receivers verify against.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// FlushPendingDeliveries claims one batch of due deliveries and attempts each
// one. Endpoint failures are recorded on the delivery row and never abort the
// batch; only storage errors propagate, since losing track of delivery state
// is worse than a slow endpoint. Returns the number of attempts made.
func (l *Dfewatch) FlushPendingDeliveries(ctx context.Context) (int, error) {
	conf, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	deliveries, err := l.datasource.ClaimDueDeliveries(ctx, conf.Webhook.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	client := &http.Client{Timeout: conf.Webhook.Timeout()}
	for _, delivery := range deliveries {
		if err := l.deliverOne(ctx, conf, client, delivery); err != nil {
			return 0, err
		}
	}
	return len(deliveries), nil
}

func (l *Dfewatch) deliverOne(ctx context.Context, conf *config.Configuration, client *http.Client, delivery model.WebhookDelivery) error {
	webhook, err := l.datasource.GetWebhook(delivery.WebhookID)
	if err != nil {
		return err
	}
	attempt := delivery.Attempt + 1

	// Circuit breaker: once the webhook trips the failure threshold its
	// remaining deliveries are abandoned without a network attempt.
	if !webhook.IsActive {
		return l.datasource.MarkDeliveryFailed(delivery.DeliveryID, delivery.Attempt, 0, "",
			"webhook deactivated after repeated failures")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return l.recordFailure(conf, webhook, delivery, attempt, 0, "", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", deliveryUserAgent)
	req.Header.Set("X-Dfewatch-Event", delivery.Event)
	req.Header.Set("X-Dfewatch-Delivery", delivery.DeliveryID)
	req.Header.Set("X-Dfewatch-Signature", SignPayload(webhook.Secret, delivery.Payload))

	code, body, err := request.CallRaw(client, req, responseBodyLimit)
	if err != nil {
		return l.recordFailure(conf, webhook, delivery, attempt, 0, "", err.Error())
	}
	if code < 200 || code >= 300 {
		return l.recordFailure(conf, webhook, delivery, attempt, code, body,
			fmt.Sprintf("endpoint returned %d", code))
	}

	now := time.Now()
	if err := l.datasource.MarkDeliverySuccess(delivery.DeliveryID, code, body, now); err != nil {
		return err
	}
	if err := l.datasource.RecordWebhookSuccess(webhook.WebhookID, now); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"delivery_id": delivery.DeliveryID,
		"webhook_id":  webhook.WebhookID,
		"attempt":     attempt,
	}).Info("webhook delivered")
	return nil
}

// recordFailure routes a failed attempt: schedule a retry while the retry
// schedule has entries left for this attempt, otherwise mark the delivery
// failed for good. Either way the webhook's cumulative failure counter moves.
func (l *Dfewatch) recordFailure(conf *config.Configuration, webhook *model.Webhook, delivery model.WebhookDelivery, attempt, code int, body, errMsg string) error {
	now := time.Now()
	schedule := conf.RetrySchedule()

	if attempt <= len(schedule) {
		next := now.Add(schedule[attempt-1])
		if err := l.datasource.MarkDeliveryRetry(delivery.DeliveryID, attempt, code, body, errMsg, next); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"delivery_id": delivery.DeliveryID,
			"attempt":     attempt,
			"next_retry":  next,
		}).Warn("webhook delivery failed, retry scheduled")
	} else {
		if err := l.datasource.MarkDeliveryFailed(delivery.DeliveryID, attempt, code, body, errMsg); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"delivery_id": delivery.DeliveryID,
			"attempt":     attempt,
		}).Error("webhook delivery failed permanently")
	}

	return l.datasource.RecordWebhookFailure(webhook.WebhookID, now, conf.Webhook.FailureThreshold)
}

// TestDelivery sends a synthetic event to one webhook immediately, outside
// the delivery pipeline. It records nothing; the result goes straight back to
// the caller so endpoint setup can be verified interactively.
func (l *Dfewatch) TestDelivery(ctx context.Context, webhookID string) (*model.WebhookDelivery, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	webhook, err := l.datasource.GetWebhook(webhookID)
	if err != nil {
		return nil, err
	}

	payload, err := BuildEventPayload("webhook.test", map[string]string{"webhook_id": webhookID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", deliveryUserAgent)
	req.Header.Set("X-Dfewatch-Event", "webhook.test")
	req.Header.Set("X-Dfewatch-Signature", SignPayload(webhook.Secret, payload))

	client := &http.Client{Timeout: conf.Webhook.Timeout()}
	result := &model.WebhookDelivery{
		WebhookID: webhookID,
		Event:     "webhook.test",
		Payload:   payload,
		Attempt:   1,
		CreatedAt: time.Now(),
	}

	code, body, err := request.CallRaw(client, req, responseBodyLimit)
	if err != nil {
		result.Status = model.DeliveryFailed
		result.ErrorMessage = err.Error()
		return result, nil
	}
	result.ResponseCode = code
	result.ResponseBody = body
	if code >= 200 && code < 300 {
		result.Status = model.DeliverySuccess
		now := time.Now()
		result.DeliveredAt = &now
	} else {
		result.Status = model.DeliveryFailed
		result.ErrorMessage = fmt.Sprintf("endpoint returned %d", code)
	}
	return result, nil
}

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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

const webhookColumns = `webhook_id, organization_id, name, url, secret, events, is_active,
	failure_count, last_success_at, last_failure_at, created_at, updated_at`

func (d Datasource) CreateWebhook(w model.Webhook) (model.Webhook, error) {
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return model.Webhook{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal events", err)
	}

	w.WebhookID = model.GenerateUUIDWithSuffix("wbh")
	if w.Secret == "" {
		w.Secret = model.NewWebhookSecret()
	}
	w.CreatedAt = time.Now()

	_, err = d.Conn.Exec(`
		INSERT INTO webhooks (webhook_id, organization_id, name, url, secret, events, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.WebhookID, w.OrganizationID, w.Name, w.URL, w.Secret, eventsJSON, w.IsActive)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "foreign_key_violation" {
			return model.Webhook{}, apierror.NewAPIError(apierror.ErrNotFound, "Organization does not exist", err)
		}
		return model.Webhook{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create webhook", err)
	}
	return w, nil
}

func (d Datasource) GetWebhook(id string) (*model.Webhook, error) {
	row := d.Conn.QueryRow(`
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE webhook_id = $1
	`, id)

	w, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Webhook not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook", err)
	}
	return w, nil
}

func (d Datasource) ListWebhooks(organizationID string) ([]model.Webhook, error) {
	return d.listWebhooks(organizationID, false)
}

// ListActiveWebhooks returns the webhooks eligible for fan-out: active ones
// only, deactivated endpoints are invisible to the dispatcher.
func (d Datasource) ListActiveWebhooks(organizationID string) ([]model.Webhook, error) {
	return d.listWebhooks(organizationID, true)
}

func (d Datasource) listWebhooks(organizationID string, activeOnly bool) ([]model.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE organization_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at`

	rows, err := d.Conn.Query(query, organizationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhooks", err)
	}
	defer rows.Close()

	webhooks := []model.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook data", err)
		}
		webhooks = append(webhooks, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over webhooks", err)
	}
	return webhooks, nil
}

func (d Datasource) UpdateWebhook(w model.Webhook) error {
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal events", err)
	}

	// Re-activating a tripped webhook starts it from a clean slate.
	result, err := d.Conn.Exec(`
		UPDATE webhooks
		SET name = $2, url = $3, events = $4, is_active = $5,
			failure_count = CASE WHEN $5 AND NOT is_active THEN 0 ELSE failure_count END,
			updated_at = CURRENT_TIMESTAMP
		WHERE webhook_id = $1
	`, w.WebhookID, w.Name, w.URL, eventsJSON, w.IsActive)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook", err)
	}
	return checkAffected(result)
}

// RotateWebhookSecret swaps the signing secret. Deliveries dispatched after
// the rotation are signed with the new value; in-flight ones keep the payload
// they snapshotted but will also sign with the new secret on their next
// attempt, which is the documented behavior of rotation.
func (d Datasource) RotateWebhookSecret(id, secret string) error {
	result, err := d.Conn.Exec(`
		UPDATE webhooks
		SET secret = $2, updated_at = CURRENT_TIMESTAMP
		WHERE webhook_id = $1
	`, id, secret)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to rotate webhook secret", err)
	}
	return checkAffected(result)
}

// RecordWebhookSuccess resets the cumulative failure counter. One good
// delivery means the endpoint is healthy again.
func (d Datasource) RecordWebhookSuccess(id string, at time.Time) error {
	result, err := d.Conn.Exec(`
		UPDATE webhooks
		SET failure_count = 0, last_success_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE webhook_id = $1
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook success", err)
	}
	return checkAffected(result)
}

// RecordWebhookFailure bumps the failure counter and deactivates the webhook
// once it reaches deactivateAt. Counter and deactivation happen in one
// statement so concurrent workers cannot overshoot the threshold, and the
// breaker only ever trips: a webhook disabled in the meantime is never
// flipped back on by a failure landing after the disable.
func (d Datasource) RecordWebhookFailure(id string, at time.Time, deactivateAt int) error {
	result, err := d.Conn.Exec(`
		UPDATE webhooks
		SET failure_count = failure_count + 1,
			last_failure_at = $2,
			is_active = is_active AND (failure_count + 1 < $3),
			updated_at = CURRENT_TIMESTAMP
		WHERE webhook_id = $1
	`, id, at, deactivateAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook failure", err)
	}
	return checkAffected(result)
}

func (d Datasource) CreateDelivery(delivery model.WebhookDelivery) (model.WebhookDelivery, error) {
	delivery.DeliveryID = model.GenerateUUIDWithSuffix("dlv")
	if delivery.Status == "" {
		delivery.Status = model.DeliveryPending
	}
	delivery.CreatedAt = time.Now()

	_, err := d.Conn.Exec(`
		INSERT INTO webhook_deliveries (delivery_id, webhook_id, document_id, event, payload, status, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, delivery.DeliveryID, delivery.WebhookID, delivery.DocumentID, delivery.Event,
		[]byte(delivery.Payload), delivery.Status, delivery.NextRetryAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "foreign_key_violation" {
			return model.WebhookDelivery{}, apierror.NewAPIError(apierror.ErrNotFound, "Webhook does not exist", err)
		}
		return model.WebhookDelivery{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create delivery", err)
	}
	return delivery, nil
}

const deliveryColumns = `delivery_id, webhook_id, document_id, event, payload, status, attempt,
	next_retry_at, response_code, response_body, error_message, created_at, delivered_at`

func (d Datasource) GetDelivery(id string) (*model.WebhookDelivery, error) {
	row := d.Conn.QueryRow(`
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE delivery_id = $1
	`, id)

	delivery, err := scanDelivery(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery", err)
	}
	return delivery, nil
}

// deliveryLeaseSeconds is how long a claimed delivery stays invisible to
// other workers. The statement auto-commits and its row locks drop on
// return, so the lease, not the lock, is what protects the send window. It
// must outlast the worst case batch: 50 sends at the 15s endpoint timeout.
const deliveryLeaseSeconds = 900

// ClaimDueDeliveries atomically picks up to limit deliveries that are ready
// to send, flips them to retrying and pushes next_retry_at one lease into
// the future. SKIP LOCKED partitions rows between claims running at the same
// instant; the lease keeps a later flush from re-claiming rows whose sends
// are still in flight. A worker that dies mid-batch loses its claim when the
// lease expires and the rows are picked up again.
func (d Datasource) ClaimDueDeliveries(ctx context.Context, limit int) ([]model.WebhookDelivery, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'retrying',
			next_retry_at = CURRENT_TIMESTAMP + make_interval(secs => $2)
		WHERE delivery_id IN (
			SELECT delivery_id FROM webhook_deliveries
			WHERE status IN ('pending', 'retrying')
			  AND (next_retry_at IS NULL OR next_retry_at <= CURRENT_TIMESTAMP)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns+`
	`, limit, deliveryLeaseSeconds)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim deliveries", err)
	}
	defer rows.Close()

	deliveries := []model.WebhookDelivery{}
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan delivery data", err)
		}
		deliveries = append(deliveries, *delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over deliveries", err)
	}
	return deliveries, nil
}

func (d Datasource) MarkDeliverySuccess(id string, code int, body string, at time.Time) error {
	result, err := d.Conn.Exec(`
		UPDATE webhook_deliveries
		SET status = 'success', attempt = attempt + 1, response_code = $2, response_body = $3,
			error_message = NULL, next_retry_at = NULL, delivered_at = $4
		WHERE delivery_id = $1
	`, id, code, body, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark delivery success", err)
	}
	return checkAffected(result)
}

func (d Datasource) MarkDeliveryRetry(id string, attempt, code int, body, errMsg string, nextRetryAt time.Time) error {
	var responseCode interface{}
	if code > 0 {
		responseCode = code
	}
	result, err := d.Conn.Exec(`
		UPDATE webhook_deliveries
		SET status = 'retrying', attempt = $2, response_code = $3, response_body = $4,
			error_message = NULLIF($5, ''), next_retry_at = $6
		WHERE delivery_id = $1
	`, id, attempt, responseCode, body, errMsg, nextRetryAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark delivery retry", err)
	}
	return checkAffected(result)
}

func (d Datasource) MarkDeliveryFailed(id string, attempt, code int, body, errMsg string) error {
	var responseCode interface{}
	if code > 0 {
		responseCode = code
	}
	result, err := d.Conn.Exec(`
		UPDATE webhook_deliveries
		SET status = 'failed', attempt = $2, response_code = $3, response_body = $4,
			error_message = NULLIF($5, ''), next_retry_at = NULL
		WHERE delivery_id = $1
	`, id, attempt, responseCode, body, errMsg)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark delivery failed", err)
	}
	return checkAffected(result)
}

func scanWebhook(row rowScanner) (*model.Webhook, error) {
	w := model.Webhook{}
	var eventsJSON []byte
	var lastSuccessAt, lastFailureAt sql.NullTime
	err := row.Scan(&w.WebhookID, &w.OrganizationID, &w.Name, &w.URL, &w.Secret, &eventsJSON,
		&w.IsActive, &w.FailureCount, &lastSuccessAt, &lastFailureAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &w.Events); err != nil {
			return nil, err
		}
	}
	if lastSuccessAt.Valid {
		w.LastSuccessAt = &lastSuccessAt.Time
	}
	if lastFailureAt.Valid {
		w.LastFailureAt = &lastFailureAt.Time
	}
	return &w, nil
}

func scanDelivery(row rowScanner) (*model.WebhookDelivery, error) {
	delivery := model.WebhookDelivery{}
	var documentID, responseBody, errorMessage sql.NullString
	var responseCode sql.NullInt64
	var nextRetryAt, deliveredAt sql.NullTime
	var payload []byte
	err := row.Scan(&delivery.DeliveryID, &delivery.WebhookID, &documentID, &delivery.Event, &payload,
		&delivery.Status, &delivery.Attempt, &nextRetryAt, &responseCode, &responseBody,
		&errorMessage, &delivery.CreatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	delivery.Payload = payload
	delivery.DocumentID = documentID.String
	delivery.ResponseBody = responseBody.String
	delivery.ErrorMessage = errorMessage.String
	delivery.ResponseCode = int(responseCode.Int64)
	if nextRetryAt.Valid {
		delivery.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		delivery.DeliveredAt = &deliveredAt.Time
	}
	return &delivery, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	return nil
}

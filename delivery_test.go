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
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dfewatch/dfewatch/model"
)

const testEndpoint = "https://erp.example.com/hooks"

func pendingDelivery(attempt int) model.WebhookDelivery {
	return model.WebhookDelivery{
		DeliveryID: "dlv_1",
		WebhookID:  "wbh_1",
		DocumentID: "doc_1",
		Event:      EventDocumentCreated,
		Payload:    []byte(`{"event":"document.created","id":"evt_1","data":{}}`),
		Status:     model.DeliveryRetrying,
		Attempt:    attempt,
	}
}

func activeWebhook() *model.Webhook {
	return &model.Webhook{
		WebhookID: "wbh_1",
		Name:      "erp",
		URL:       testEndpoint,
		Secret:    "super-secret",
		Events:    []string{EventDocumentCreated},
		IsActive:  true,
	}
}

func TestFlushPendingDeliveriesSuccess(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	service, datasource := newTestService(t)
	delivery := pendingDelivery(0)

	var gotHeaders http.Header
	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			gotHeaders = req.Header.Clone()
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	datasource.On("ClaimDueDeliveries", mock.Anything, 50).
		Return([]model.WebhookDelivery{delivery}, nil)
	datasource.On("GetWebhook", "wbh_1").Return(activeWebhook(), nil)
	datasource.On("MarkDeliverySuccess", "dlv_1", http.StatusOK, `{"ok":true}`, mock.AnythingOfType("time.Time")).Return(nil)
	datasource.On("RecordWebhookSuccess", "wbh_1", mock.AnythingOfType("time.Time")).Return(nil)

	sent, err := service.FlushPendingDeliveries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	assert.Equal(t, EventDocumentCreated, gotHeaders.Get("X-Dfewatch-Event"))
	assert.Equal(t, "dlv_1", gotHeaders.Get("X-Dfewatch-Delivery"))
	assert.Equal(t, deliveryUserAgent, gotHeaders.Get("User-Agent"))
	assert.Equal(t, SignPayload("super-secret", delivery.Payload), gotHeaders.Get("X-Dfewatch-Signature"))
	datasource.AssertExpectations(t)
}

func TestFlushSchedulesRetryOnServerError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	service, datasource := newTestService(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	datasource.On("ClaimDueDeliveries", mock.Anything, 50).
		Return([]model.WebhookDelivery{pendingDelivery(0)}, nil)
	datasource.On("GetWebhook", "wbh_1").Return(activeWebhook(), nil)
	// First failure lands on the first schedule entry, 10 seconds out.
	datasource.On("MarkDeliveryRetry", "dlv_1", 1, http.StatusServiceUnavailable, "busy",
		"endpoint returned 503", mock.MatchedBy(func(next time.Time) bool {
			return time.Until(next) > 8*time.Second && time.Until(next) <= 10*time.Second
		})).Return(nil)
	datasource.On("RecordWebhookFailure", "wbh_1", mock.AnythingOfType("time.Time"), 10).Return(nil)

	_, err := service.FlushPendingDeliveries(context.Background())
	require.NoError(t, err)
	datasource.AssertExpectations(t)
}

func TestFlushMarksFailedWhenScheduleExhausted(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	service, datasource := newTestService(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))

	// Five delays in the schedule; this is the sixth attempt.
	datasource.On("ClaimDueDeliveries", mock.Anything, 50).
		Return([]model.WebhookDelivery{pendingDelivery(5)}, nil)
	datasource.On("GetWebhook", "wbh_1").Return(activeWebhook(), nil)
	datasource.On("MarkDeliveryFailed", "dlv_1", 6, http.StatusInternalServerError, "oops",
		"endpoint returned 500").Return(nil)
	datasource.On("RecordWebhookFailure", "wbh_1", mock.AnythingOfType("time.Time"), 10).Return(nil)

	_, err := service.FlushPendingDeliveries(context.Background())
	require.NoError(t, err)
	datasource.AssertExpectations(t)
}

func TestFlushAbandonsDeliveriesOfTrippedWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	service, datasource := newTestService(t)

	webhook := activeWebhook()
	webhook.IsActive = false
	webhook.FailureCount = 10

	datasource.On("ClaimDueDeliveries", mock.Anything, 50).
		Return([]model.WebhookDelivery{pendingDelivery(3)}, nil)
	datasource.On("GetWebhook", "wbh_1").Return(webhook, nil)
	datasource.On("MarkDeliveryFailed", "dlv_1", 3, 0, "",
		"webhook deactivated after repeated failures").Return(nil)

	_, err := service.FlushPendingDeliveries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount(), "tripped webhooks must not be called")
	datasource.AssertExpectations(t)
}

func TestSignPayloadIsDeterministic(t *testing.T) {
	payload := []byte(`{"event":"document.created"}`)
	first := SignPayload("secret", payload)
	second := SignPayload("secret", payload)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "sha256=")
	assert.NotEqual(t, first, SignPayload("rotated", payload),
		"rotating the secret must change the signature")
}

func TestBuildEventPayloadEnvelope(t *testing.T) {
	payload, err := BuildEventPayload(EventDocumentCreated, map[string]string{"document_id": "doc_1"})
	require.NoError(t, err)

	assert.Contains(t, string(payload), `"event":"document.created"`)
	assert.Contains(t, string(payload), `"id":"evt_`)
	assert.Contains(t, string(payload), `"document_id":"doc_1"`)
}

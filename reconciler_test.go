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
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/database/mocks"
	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

func newTestService(t *testing.T) (*Dfewatch, *mocks.MockDataSource) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		ProjectName: "Dfewatch",
		Sefaz:       config.SefazConfig{Environment: config.EnvironmentHomologation, TimeoutSec: 30},
		Webhook: config.WebhookConfig{
			RetryDelays:      "10,30,120,600,3600",
			FailureThreshold: 10,
			TimeoutSec:       15,
			BatchSize:        50,
		},
		Queue: config.QueueConfig{SyncQueue: "monitor:sync", WebhookQueue: "webhook:flush"},
	})
	datasource := new(mocks.MockDataSource)
	return &Dfewatch{datasource: datasource}, datasource
}

func newDocument(status string) model.Document {
	return model.Document{
		Kind:        model.KindNFe,
		AccessKey:   "35230112345678000195550010000123451234567890",
		IssuerTaxID: "12345678000195",
		TotalAmount: decimal.RequireFromString("1500.50"),
		Status:      status,
		Extra:       map[string]interface{}{"fonte": "distribuicao_dfe"},
	}
}

func TestUpsertDocumentCreates(t *testing.T) {
	service, datasource := newTestService(t)
	doc := newDocument(model.StatusAuthorized)

	datasource.On("GetDocumentByAccessKey", "org_1", doc.AccessKey).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil))
	datasource.On("GetOrganization", "org_1").
		Return(&model.Organization{OrganizationID: "org_1", DocsQuota: 500}, nil)
	datasource.On("CountDocuments", "org_1").Return(10, nil)
	datasource.On("InsertDocument", mock.AnythingOfType("model.FiscalDocument")).
		Return(model.FiscalDocument{Document: doc, DocumentID: "doc_1", OrganizationID: "org_1"}, nil)
	datasource.On("ListActiveWebhooks", "org_1").Return([]model.Webhook{
		{WebhookID: "wbh_1", Secret: "s", Events: []string{EventDocumentCreated}, IsActive: true},
	}, nil)
	datasource.On("CreateDelivery", mock.AnythingOfType("model.WebhookDelivery")).
		Return(model.WebhookDelivery{DeliveryID: "dlv_1"}, nil)
	datasource.On("ListActiveAlerts", "org_1").Return([]model.Alert{}, nil)

	stored, created, err := service.UpsertDocument(context.Background(), "org_1", doc)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "doc_1", stored.DocumentID)
	datasource.AssertExpectations(t)
}

func TestUpsertDocumentEnforcesQuota(t *testing.T) {
	service, datasource := newTestService(t)
	doc := newDocument(model.StatusAuthorized)

	datasource.On("GetDocumentByAccessKey", "org_1", doc.AccessKey).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil))
	datasource.On("GetOrganization", "org_1").
		Return(&model.Organization{OrganizationID: "org_1", DocsQuota: 500}, nil)
	datasource.On("CountDocuments", "org_1").Return(500, nil)

	_, _, err := service.UpsertDocument(context.Background(), "org_1", doc)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrQuotaExceeded))
	datasource.AssertNotCalled(t, "InsertDocument", mock.Anything)
}

func TestUpsertDocumentOfflineDecodeNeverRegresses(t *testing.T) {
	service, datasource := newTestService(t)

	existing := &model.FiscalDocument{
		Document:       newDocument(model.StatusAuthorized),
		DocumentID:     "doc_1",
		OrganizationID: "org_1",
	}
	offline := newDocument(model.StatusProcessing)
	offline.Extra = map[string]interface{}{"fonte": "chave_decodificada"}

	datasource.On("GetDocumentByAccessKey", "org_1", offline.AccessKey).Return(existing, nil)

	stored, created, err := service.UpsertDocument(context.Background(), "org_1", offline)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.StatusAuthorized, stored.Status)
	datasource.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpsertDocumentCancellationTransition(t *testing.T) {
	service, datasource := newTestService(t)

	existing := &model.FiscalDocument{
		Document:       newDocument(model.StatusAuthorized),
		DocumentID:     "doc_1",
		OrganizationID: "org_1",
	}
	cancelled := newDocument(model.StatusCancelled)
	cancelled.StatusReason = "Cancelamento homologado"

	datasource.On("GetDocumentByAccessKey", "org_1", cancelled.AccessKey).Return(existing, nil)
	datasource.On("UpdateDocumentStatus", "doc_1", mock.AnythingOfType("model.Document"), mock.Anything).Return(nil)
	datasource.On("ListActiveWebhooks", "org_1").Return([]model.Webhook{
		{WebhookID: "wbh_1", Secret: "s", Events: []string{EventDocumentCancelled}, IsActive: true},
	}, nil)
	datasource.On("CreateDelivery", mock.MatchedBy(func(d model.WebhookDelivery) bool {
		return d.Event == EventDocumentCancelled
	})).Return(model.WebhookDelivery{DeliveryID: "dlv_1"}, nil)
	datasource.On("ListActiveAlerts", "org_1").Return([]model.Alert{}, nil)

	stored, created, err := service.UpsertDocument(context.Background(), "org_1", cancelled)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	datasource.AssertExpectations(t)
}

// The feed replays documents across sync runs. A repeat sighting with the
// same status must be absorbed without touching the store or re-firing
// webhooks and alerts.
func TestUpsertDocumentRepeatSightingIsNoOp(t *testing.T) {
	service, datasource := newTestService(t)

	existing := &model.FiscalDocument{
		Document:       newDocument(model.StatusAuthorized),
		DocumentID:     "doc_1",
		OrganizationID: "org_1",
	}
	repeat := newDocument(model.StatusAuthorized)

	datasource.On("GetDocumentByAccessKey", "org_1", repeat.AccessKey).Return(existing, nil)

	stored, created, err := service.UpsertDocument(context.Background(), "org_1", repeat)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "doc_1", stored.DocumentID)
	datasource.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything)
	datasource.AssertNotCalled(t, "CreateDelivery", mock.Anything)
	datasource.AssertNotCalled(t, "ListActiveAlerts", mock.Anything)
}

func TestUpsertDocumentTerminalStateSticks(t *testing.T) {
	service, datasource := newTestService(t)

	existing := &model.FiscalDocument{
		Document:       newDocument(model.StatusCancelled),
		DocumentID:     "doc_1",
		OrganizationID: "org_1",
	}
	authorized := newDocument(model.StatusAuthorized)

	datasource.On("GetDocumentByAccessKey", "org_1", authorized.AccessKey).Return(existing, nil)

	stored, _, err := service.UpsertDocument(context.Background(), "org_1", authorized)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
	datasource.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything)
}

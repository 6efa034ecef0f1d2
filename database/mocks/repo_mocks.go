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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dfewatch/dfewatch/database"
	"github.com/dfewatch/dfewatch/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Organization methods

func (m *MockDataSource) CreateOrganization(org model.Organization) (model.Organization, error) {
	args := m.Called(org)
	return args.Get(0).(model.Organization), args.Error(1)
}

func (m *MockDataSource) GetOrganization(id string) (*model.Organization, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Organization), args.Error(1)
}

func (m *MockDataSource) CountDocuments(organizationID string) (int, error) {
	args := m.Called(organizationID)
	return args.Int(0), args.Error(1)
}

// Monitor methods

func (m *MockDataSource) CreateMonitor(monitor model.Monitor) (model.Monitor, error) {
	args := m.Called(monitor)
	return args.Get(0).(model.Monitor), args.Error(1)
}

func (m *MockDataSource) GetMonitor(id string) (*model.Monitor, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Monitor), args.Error(1)
}

func (m *MockDataSource) ListMonitors(organizationID string) ([]model.Monitor, error) {
	args := m.Called(organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Monitor), args.Error(1)
}

func (m *MockDataSource) ListActiveMonitors() ([]model.Monitor, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Monitor), args.Error(1)
}

func (m *MockDataSource) UpdateMonitorSync(id, lastNSU, syncError string, syncedAt time.Time) error {
	args := m.Called(id, lastNSU, syncError, syncedAt)
	return args.Error(0)
}

// Document methods

func (m *MockDataSource) GetDocumentByAccessKey(organizationID, accessKey string) (*model.FiscalDocument, error) {
	args := m.Called(organizationID, accessKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) ListDocuments(ctx context.Context, organizationID string, filter database.DocumentFilter) ([]model.FiscalDocument, error) {
	args := m.Called(ctx, organizationID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) InsertDocument(doc model.FiscalDocument) (model.FiscalDocument, error) {
	args := m.Called(doc)
	return args.Get(0).(model.FiscalDocument), args.Error(1)
}

func (m *MockDataSource) UpdateDocumentStatus(documentID string, doc model.Document, cancelledAt *time.Time) error {
	args := m.Called(documentID, doc, cancelledAt)
	return args.Error(0)
}

// Webhook methods

func (m *MockDataSource) CreateWebhook(w model.Webhook) (model.Webhook, error) {
	args := m.Called(w)
	return args.Get(0).(model.Webhook), args.Error(1)
}

func (m *MockDataSource) GetWebhook(id string) (*model.Webhook, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Webhook), args.Error(1)
}

func (m *MockDataSource) ListWebhooks(organizationID string) ([]model.Webhook, error) {
	args := m.Called(organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Webhook), args.Error(1)
}

func (m *MockDataSource) ListActiveWebhooks(organizationID string) ([]model.Webhook, error) {
	args := m.Called(organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Webhook), args.Error(1)
}

func (m *MockDataSource) UpdateWebhook(w model.Webhook) error {
	args := m.Called(w)
	return args.Error(0)
}

func (m *MockDataSource) RotateWebhookSecret(id, secret string) error {
	args := m.Called(id, secret)
	return args.Error(0)
}

func (m *MockDataSource) RecordWebhookSuccess(id string, at time.Time) error {
	args := m.Called(id, at)
	return args.Error(0)
}

func (m *MockDataSource) RecordWebhookFailure(id string, at time.Time, deactivateAt int) error {
	args := m.Called(id, at, deactivateAt)
	return args.Error(0)
}

// Delivery methods

func (m *MockDataSource) CreateDelivery(delivery model.WebhookDelivery) (model.WebhookDelivery, error) {
	args := m.Called(delivery)
	return args.Get(0).(model.WebhookDelivery), args.Error(1)
}

func (m *MockDataSource) GetDelivery(id string) (*model.WebhookDelivery, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookDelivery), args.Error(1)
}

func (m *MockDataSource) ClaimDueDeliveries(ctx context.Context, limit int) ([]model.WebhookDelivery, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WebhookDelivery), args.Error(1)
}

func (m *MockDataSource) MarkDeliverySuccess(id string, code int, body string, at time.Time) error {
	args := m.Called(id, code, body, at)
	return args.Error(0)
}

func (m *MockDataSource) MarkDeliveryRetry(id string, attempt, code int, body, errMsg string, nextRetryAt time.Time) error {
	args := m.Called(id, attempt, code, body, errMsg, nextRetryAt)
	return args.Error(0)
}

func (m *MockDataSource) MarkDeliveryFailed(id string, attempt, code int, body, errMsg string) error {
	args := m.Called(id, attempt, code, body, errMsg)
	return args.Error(0)
}

// Alert methods

func (m *MockDataSource) CreateAlert(a model.Alert) (model.Alert, error) {
	args := m.Called(a)
	return args.Get(0).(model.Alert), args.Error(1)
}

func (m *MockDataSource) ListActiveAlerts(organizationID string) ([]model.Alert, error) {
	args := m.Called(organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Alert), args.Error(1)
}

func (m *MockDataSource) RecordAlertFired(id string, at time.Time) error {
	args := m.Called(id, at)
	return args.Error(0)
}

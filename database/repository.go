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
	"time"

	"github.com/dfewatch/dfewatch/model"
)

type IDataSource interface {
	organization
	monitor
	document
	webhook
	alert
}

type organization interface {
	CreateOrganization(org model.Organization) (model.Organization, error)
	GetOrganization(id string) (*model.Organization, error)
	CountDocuments(organizationID string) (int, error)
}

type monitor interface {
	CreateMonitor(m model.Monitor) (model.Monitor, error)
	GetMonitor(id string) (*model.Monitor, error)
	ListMonitors(organizationID string) ([]model.Monitor, error)
	ListActiveMonitors() ([]model.Monitor, error)
	UpdateMonitorSync(id, lastNSU, syncError string, syncedAt time.Time) error
}

type document interface {
	GetDocumentByAccessKey(organizationID, accessKey string) (*model.FiscalDocument, error)
	ListDocuments(ctx context.Context, organizationID string, filter DocumentFilter) ([]model.FiscalDocument, error)
	InsertDocument(doc model.FiscalDocument) (model.FiscalDocument, error)
	UpdateDocumentStatus(documentID string, doc model.Document, cancelledAt *time.Time) error
}

type webhook interface {
	CreateWebhook(w model.Webhook) (model.Webhook, error)
	GetWebhook(id string) (*model.Webhook, error)
	ListWebhooks(organizationID string) ([]model.Webhook, error)
	ListActiveWebhooks(organizationID string) ([]model.Webhook, error)
	UpdateWebhook(w model.Webhook) error
	RotateWebhookSecret(id, secret string) error
	RecordWebhookSuccess(id string, at time.Time) error
	RecordWebhookFailure(id string, at time.Time, deactivateAt int) error

	CreateDelivery(delivery model.WebhookDelivery) (model.WebhookDelivery, error)
	GetDelivery(id string) (*model.WebhookDelivery, error)
	ClaimDueDeliveries(ctx context.Context, limit int) ([]model.WebhookDelivery, error)
	MarkDeliverySuccess(id string, code int, body string, at time.Time) error
	MarkDeliveryRetry(id string, attempt, code int, body, errMsg string, nextRetryAt time.Time) error
	MarkDeliveryFailed(id string, attempt, code int, body, errMsg string) error
}

type alert interface {
	CreateAlert(a model.Alert) (model.Alert, error)
	ListActiveAlerts(organizationID string) ([]model.Alert, error)
	RecordAlertFired(id string, at time.Time) error
}

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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

// terminalStatuses are the lifecycle states a document never leaves except
// for a cancellation observed after authorization.
var terminalStatuses = map[string]bool{
	model.StatusCancelled: true,
	model.StatusDenied:    true,
}

// UpsertDocument reconciles one observed document against the store. A new
// access key inserts (subject to the organization's quota) and emits
// document.created; a known key only moves lifecycle fields, and only
// forward: processing never overwrites a terminal state, and an offline
// decode never overwrites data parsed from authority XML. The returned bool
// reports whether a new row was created.
func (l *Dfewatch) UpsertDocument(ctx context.Context, organizationID string, doc model.Document) (*model.FiscalDocument, bool, error) {
	ctx, span := otel.Tracer("dfewatch.reconciler").Start(ctx, "UpsertDocument")
	defer span.End()

	if doc.Status == "" {
		doc.Status = model.StatusProcessing
	}

	existing, err := l.datasource.GetDocumentByAccessKey(organizationID, doc.AccessKey)
	if err != nil {
		if !apierror.Is(err, apierror.ErrNotFound) {
			return nil, false, err
		}
		created, err := l.insertDocument(ctx, organizationID, doc)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	updated, err := l.applyTransition(ctx, existing, doc)
	if err != nil {
		return nil, false, err
	}
	return updated, false, nil
}

func (l *Dfewatch) insertDocument(ctx context.Context, organizationID string, doc model.Document) (*model.FiscalDocument, error) {
	org, err := l.datasource.GetOrganization(organizationID)
	if err != nil {
		return nil, err
	}

	count, err := l.datasource.CountDocuments(organizationID)
	if err != nil {
		return nil, err
	}
	if org.DocsQuota > 0 && count >= org.DocsQuota {
		return nil, apierror.NewAPIError(apierror.ErrQuotaExceeded,
			"organization document quota reached", nil)
	}

	inserted, err := l.datasource.InsertDocument(model.FiscalDocument{
		Document:       doc,
		OrganizationID: organizationID,
	})
	if err != nil {
		// A concurrent sync can insert the same key between our lookup and
		// the insert; fold the conflict into the update path.
		if apierror.Is(err, apierror.ErrConflict) {
			existing, getErr := l.datasource.GetDocumentByAccessKey(organizationID, doc.AccessKey)
			if getErr != nil {
				return nil, getErr
			}
			return l.applyTransition(ctx, existing, doc)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"document_id":     inserted.DocumentID,
		"organization_id": organizationID,
		"kind":            doc.Kind,
		"status":          doc.Status,
	}).Info("document created")

	if err := l.DispatchEvent(ctx, organizationID, EventDocumentCreated, inserted.DocumentID, inserted); err != nil {
		return nil, err
	}
	if err := l.EvaluateAlerts(ctx, inserted, EventDocumentCreated); err != nil {
		return nil, err
	}

	// First sighting can already be terminal; emit the lifecycle event too
	// so consumers that only watch cancellations still hear about it.
	switch doc.Status {
	case model.StatusCancelled:
		if err := l.DispatchEvent(ctx, organizationID, EventDocumentCancelled, inserted.DocumentID, inserted); err != nil {
			return nil, err
		}
		if err := l.EvaluateAlerts(ctx, inserted, EventDocumentCancelled); err != nil {
			return nil, err
		}
	case model.StatusDenied:
		if err := l.DispatchEvent(ctx, organizationID, EventDocumentDenied, inserted.DocumentID, inserted); err != nil {
			return nil, err
		}
	}
	return &inserted, nil
}

func (l *Dfewatch) applyTransition(ctx context.Context, existing *model.FiscalDocument, doc model.Document) (*model.FiscalDocument, error) {
	// Offline decodes carry no lifecycle information beyond "processing";
	// they must never regress a document the authority already resolved.
	if fonte, ok := doc.Extra["fonte"]; ok && fonte == "chave_decodificada" {
		return existing, nil
	}
	if doc.Status == model.StatusProcessing || doc.Status == existing.Status {
		return existing, nil
	}
	if terminalStatuses[existing.Status] {
		return existing, nil
	}

	var cancelledAt *time.Time
	if doc.Status == model.StatusCancelled {
		now := time.Now()
		cancelledAt = &now
	}
	if err := l.datasource.UpdateDocumentStatus(existing.DocumentID, doc, cancelledAt); err != nil {
		return nil, err
	}

	existing.Status = doc.Status
	existing.StatusReason = doc.StatusReason
	if doc.Protocol != "" {
		existing.Protocol = doc.Protocol
	}
	if doc.AuthorizedAt != nil {
		existing.AuthorizedAt = doc.AuthorizedAt
	}
	existing.CancelledAt = cancelledAt

	logrus.WithFields(logrus.Fields{
		"document_id": existing.DocumentID,
		"status":      doc.Status,
	}).Info("document status changed")

	switch doc.Status {
	case model.StatusCancelled:
		if err := l.DispatchEvent(ctx, existing.OrganizationID, EventDocumentCancelled, existing.DocumentID, existing); err != nil {
			return nil, err
		}
		if err := l.EvaluateAlerts(ctx, *existing, EventDocumentCancelled); err != nil {
			return nil, err
		}
	case model.StatusDenied:
		if err := l.DispatchEvent(ctx, existing.OrganizationID, EventDocumentDenied, existing.DocumentID, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

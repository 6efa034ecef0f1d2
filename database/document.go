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
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

// DocumentFilter narrows a document listing. Zero values mean "no filter";
// Limit defaults to 50.
type DocumentFilter struct {
	Kind        string
	Status      string
	IssuerState string
	IssuerTaxID string
	Since       *time.Time
	Until       *time.Time
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	Limit       int
	Offset      int
}

const documentColumns = `document_id, organization_id, kind, access_key, number, series, model_code,
	issuer_tax_id, issuer_name, issuer_state, recipient_tax_id, recipient_name,
	total_amount, icms_amount, ipi_amount, iss_amount,
	issued_at, authorized_at, cancelled_at, status, protocol, status_reason,
	operation, cfop, extra, created_at, updated_at`

func (d Datasource) GetDocumentByAccessKey(organizationID, accessKey string) (*model.FiscalDocument, error) {
	row := d.Conn.QueryRow(`
		SELECT `+documentColumns+`
		FROM fiscal_documents
		WHERE organization_id = $1 AND access_key = $2
	`, organizationID, accessKey)

	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Document not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document", err)
	}
	return doc, nil
}

func (d Datasource) ListDocuments(ctx context.Context, organizationID string, filter DocumentFilter) ([]model.FiscalDocument, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM fiscal_documents
		WHERE organization_id = $1`
	args := []interface{}{organizationID}

	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.IssuerState != "" {
		args = append(args, filter.IssuerState)
		query += fmt.Sprintf(" AND issuer_state = $%d", len(args))
	}
	if filter.IssuerTaxID != "" {
		args = append(args, model.NormalizeTaxID(filter.IssuerTaxID))
		query += fmt.Sprintf(" AND issuer_tax_id = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND issued_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND issued_at <= $%d", len(args))
	}
	if filter.MinAmount != nil {
		args = append(args, filter.MinAmount.String())
		query += fmt.Sprintf(" AND total_amount >= $%d", len(args))
	}
	if filter.MaxAmount != nil {
		args = append(args, filter.MaxAmount.String())
		query += fmt.Sprintf(" AND total_amount <= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY issued_at DESC NULLS LAST LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve documents", err)
	}
	defer rows.Close()

	docs := []model.FiscalDocument{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan document data", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over documents", err)
	}
	return docs, nil
}

func (d Datasource) InsertDocument(doc model.FiscalDocument) (model.FiscalDocument, error) {
	extraJSON, err := json.Marshal(doc.Extra)
	if err != nil {
		return model.FiscalDocument{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal extra data", err)
	}

	doc.DocumentID = model.GenerateUUIDWithSuffix("doc")
	doc.CreatedAt = time.Now()

	var issuedAt interface{}
	if !doc.IssuedAt.IsZero() {
		issuedAt = doc.IssuedAt
	}

	_, err = d.Conn.Exec(`
		INSERT INTO fiscal_documents (document_id, organization_id, kind, access_key, number, series, model_code,
			issuer_tax_id, issuer_name, issuer_state, recipient_tax_id, recipient_name,
			total_amount, icms_amount, ipi_amount, iss_amount,
			issued_at, authorized_at, status, protocol, status_reason, operation, cfop, raw_xml, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, doc.DocumentID, doc.OrganizationID, doc.Kind, doc.AccessKey, doc.Number, doc.Series, doc.ModelCode,
		doc.IssuerTaxID, doc.IssuerName, doc.IssuerState, doc.RecipientTaxID, doc.RecipientName,
		doc.TotalAmount, doc.ICMSAmount, doc.IPIAmount, doc.ISSAmount,
		issuedAt, doc.AuthorizedAt, doc.Status, doc.Protocol, doc.StatusReason, doc.Operation, doc.CFOP, doc.RawXML, extraJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.FiscalDocument{}, apierror.NewAPIError(apierror.ErrConflict, "Document with this access key already exists", err)
			case "foreign_key_violation":
				return model.FiscalDocument{}, apierror.NewAPIError(apierror.ErrNotFound, "Organization does not exist", err)
			}
		}
		return model.FiscalDocument{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create document", err)
	}
	return doc, nil
}

// UpdateDocumentStatus applies a status transition observed at the authority.
// Only lifecycle fields move; the descriptive fields written at insert time
// are not touched.
func (d Datasource) UpdateDocumentStatus(documentID string, doc model.Document, cancelledAt *time.Time) error {
	result, err := d.Conn.Exec(`
		UPDATE fiscal_documents
		SET status = $2, protocol = COALESCE(NULLIF($3, ''), protocol),
			status_reason = $4, authorized_at = COALESCE($5, authorized_at),
			cancelled_at = COALESCE($6, cancelled_at), updated_at = CURRENT_TIMESTAMP
		WHERE document_id = $1
	`, documentID, doc.Status, doc.Protocol, doc.StatusReason, doc.AuthorizedAt, cancelledAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update document status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update document status", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil)
	}
	return nil
}

func scanDocument(row rowScanner) (*model.FiscalDocument, error) {
	doc := model.FiscalDocument{}
	var number, series, modelCode, issuerTaxID, issuerName, issuerState sql.NullString
	var recipientTaxID, recipientName, protocol, statusReason, operation, cfop sql.NullString
	var issuedAt, authorizedAt, cancelledAt sql.NullTime
	var extraJSON []byte

	err := row.Scan(&doc.DocumentID, &doc.OrganizationID, &doc.Kind, &doc.AccessKey, &number, &series, &modelCode,
		&issuerTaxID, &issuerName, &issuerState, &recipientTaxID, &recipientName,
		&doc.TotalAmount, &doc.ICMSAmount, &doc.IPIAmount, &doc.ISSAmount,
		&issuedAt, &authorizedAt, &cancelledAt, &doc.Status, &protocol, &statusReason,
		&operation, &cfop, &extraJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	doc.Number = number.String
	doc.Series = series.String
	doc.ModelCode = modelCode.String
	doc.IssuerTaxID = issuerTaxID.String
	doc.IssuerName = issuerName.String
	doc.IssuerState = issuerState.String
	doc.RecipientTaxID = recipientTaxID.String
	doc.RecipientName = recipientName.String
	doc.Protocol = protocol.String
	doc.StatusReason = statusReason.String
	doc.Operation = operation.String
	doc.CFOP = cfop.String
	if issuedAt.Valid {
		doc.IssuedAt = issuedAt.Time
	}
	if authorizedAt.Valid {
		doc.AuthorizedAt = &authorizedAt.Time
	}
	if cancelledAt.Valid {
		doc.CancelledAt = &cancelledAt.Time
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &doc.Extra); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

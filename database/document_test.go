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
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func testFiscalDocument() model.FiscalDocument {
	return model.FiscalDocument{
		Document: model.Document{
			Kind:        model.KindNFe,
			AccessKey:   "35230112345678000195550010000123451234567890",
			Number:      "12345",
			Series:      "1",
			ModelCode:   "55",
			IssuerTaxID: "12345678000195",
			IssuerName:  "Fornecedor Ltda",
			TotalAmount: decimal.RequireFromString("1500.50"),
			IssuedAt:    time.Date(2023, 1, 10, 8, 0, 0, 0, time.UTC),
			Status:      model.StatusAuthorized,
			Protocol:    "135230000054321",
		},
		OrganizationID: "org_test",
	}
}

func TestInsertDocument(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO fiscal_documents").
		WillReturnResult(sqlmock.NewResult(1, 1))

	doc, err := d.InsertDocument(testFiscalDocument())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.DocumentID, "doc_"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDocumentDuplicateKey(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO fiscal_documents").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := d.InsertDocument(testFiscalDocument())
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestGetDocumentByAccessKeyNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT .* FROM fiscal_documents").
		WithArgs("org_test", "35230112345678000195550010000123451234567890").
		WillReturnError(sql.ErrNoRows)

	_, err := d.GetDocumentByAccessKey("org_test", "35230112345678000195550010000123451234567890")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func documentRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"document_id", "organization_id", "kind", "access_key", "number", "series", "model_code",
		"issuer_tax_id", "issuer_name", "issuer_state", "recipient_tax_id", "recipient_name",
		"total_amount", "icms_amount", "ipi_amount", "iss_amount",
		"issued_at", "authorized_at", "cancelled_at", "status", "protocol", "status_reason",
		"operation", "cfop", "extra", "created_at", "updated_at",
	}).AddRow(
		"doc_1", "org_test", "nfe", "35230112345678000195550010000123451234567890", "12345", "1", "55",
		"12345678000195", "Fornecedor Ltda", "SP", "98765432000188", "Cliente SA",
		"1500.50", "270.09", "0", "0",
		now, now, nil, "authorized", "135230000054321", "Autorizado",
		"VENDA", nil, []byte(`{"fonte":"distribuicao_dfe"}`), now, now,
	)
}

func TestGetDocumentByAccessKey(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT .* FROM fiscal_documents").
		WithArgs("org_test", "35230112345678000195550010000123451234567890").
		WillReturnRows(documentRows())

	doc, err := d.GetDocumentByAccessKey("org_test", "35230112345678000195550010000123451234567890")
	require.NoError(t, err)
	assert.Equal(t, "doc_1", doc.DocumentID)
	assert.Equal(t, model.StatusAuthorized, doc.Status)
	assert.Equal(t, "1500.5", doc.TotalAmount.String())
	assert.Equal(t, "distribuicao_dfe", doc.Extra["fonte"])
}

func TestListDocumentsAppliesFilters(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT .* FROM fiscal_documents").
		WithArgs("org_test", "nfe", "authorized", sqlmock.AnyArg()).
		WillReturnRows(documentRows())

	docs, err := d.ListDocuments(context.Background(), "org_test", DocumentFilter{
		Kind:   model.KindNFe,
		Status: model.StatusAuthorized,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDocumentStatusNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE fiscal_documents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.UpdateDocumentStatus("doc_missing", model.Document{Status: model.StatusCancelled}, nil)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

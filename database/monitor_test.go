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
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

func TestCreateMonitorNormalizesTaxID(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO cnpj_monitors").
		WillReturnResult(sqlmock.NewResult(1, 1))

	m, err := d.CreateMonitor(model.Monitor{
		OrganizationID: "org_test",
		TaxID:          "12.345.678/0001-95",
		WatchNFe:       true,
		IsActive:       true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.MonitorID, "mon_"))
	assert.Equal(t, "12345678000195", m.TaxID)
	assert.Equal(t, "000000000000000", m.LastNSU)
}

func TestCreateMonitorDuplicateTaxID(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO cnpj_monitors").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := d.CreateMonitor(model.Monitor{OrganizationID: "org_test", TaxID: "12345678000195"})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestListActiveMonitors(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"monitor_id", "organization_id", "tax_id", "legal_name", "description",
		"watch_nfe", "watch_cte", "watch_nfse", "as_issuer", "as_recipient", "as_carrier",
		"is_active", "last_nsu", "last_sync_at", "sync_error", "created_at", "updated_at",
	}).AddRow(
		"mon_1", "org_test", "12345678000195", "Fornecedor Ltda", nil,
		true, true, false, false, true, false,
		true, "000000000000050", now, nil, now, now,
	)
	mock.ExpectQuery("SELECT .* FROM cnpj_monitors").
		WillReturnRows(rows)

	monitors, err := d.ListActiveMonitors()
	require.NoError(t, err)
	require.Len(t, monitors, 1)

	m := monitors[0]
	assert.Equal(t, "000000000000050", m.LastNSU)
	assert.Equal(t, map[string]bool{model.KindNFe: true, model.KindCTe: true}, m.WatchedKinds())
	require.NotNil(t, m.LastSyncAt)
}

func TestUpdateMonitorSync(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	mock.ExpectExec("UPDATE cnpj_monitors").
		WithArgs("mon_1", "000000000000120", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.UpdateMonitorSync("mon_1", "000000000000120", "", now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMonitorSyncNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE cnpj_monitors").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.UpdateMonitorSync("mon_missing", "000000000000120", "", time.Now())
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

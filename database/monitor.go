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
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

const monitorColumns = `monitor_id, organization_id, tax_id, legal_name, description,
	watch_nfe, watch_cte, watch_nfse, as_issuer, as_recipient, as_carrier,
	is_active, last_nsu, last_sync_at, sync_error, created_at, updated_at`

func (d Datasource) CreateMonitor(m model.Monitor) (model.Monitor, error) {
	m.MonitorID = model.GenerateUUIDWithSuffix("mon")
	m.TaxID = model.NormalizeTaxID(m.TaxID)
	if m.LastNSU == "" {
		m.LastNSU = "000000000000000"
	}
	m.CreatedAt = time.Now()

	_, err := d.Conn.Exec(`
		INSERT INTO cnpj_monitors (monitor_id, organization_id, tax_id, legal_name, description,
			watch_nfe, watch_cte, watch_nfse, as_issuer, as_recipient, as_carrier, is_active, last_nsu)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.MonitorID, m.OrganizationID, m.TaxID, m.LegalName, m.Description,
		m.WatchNFe, m.WatchCTe, m.WatchNFSe, m.AsIssuer, m.AsRecipient, m.AsCarrier, m.IsActive, m.LastNSU)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.Monitor{}, apierror.NewAPIError(apierror.ErrConflict, "Monitor for this tax id already exists", err)
			case "foreign_key_violation":
				return model.Monitor{}, apierror.NewAPIError(apierror.ErrNotFound, "Organization does not exist", err)
			}
		}
		return model.Monitor{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create monitor", err)
	}
	return m, nil
}

func (d Datasource) GetMonitor(id string) (*model.Monitor, error) {
	row := d.Conn.QueryRow(`
		SELECT `+monitorColumns+`
		FROM cnpj_monitors
		WHERE monitor_id = $1
	`, id)

	m, err := scanMonitor(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Monitor not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve monitor", err)
	}
	return m, nil
}

func (d Datasource) ListMonitors(organizationID string) ([]model.Monitor, error) {
	rows, err := d.Conn.Query(`
		SELECT `+monitorColumns+`
		FROM cnpj_monitors
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, organizationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve monitors", err)
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// ListActiveMonitors returns every active monitor across organizations. The
// scheduler uses it to fan out sync jobs.
func (d Datasource) ListActiveMonitors() ([]model.Monitor, error) {
	rows, err := d.Conn.Query(`
		SELECT ` + monitorColumns + `
		FROM cnpj_monitors
		WHERE is_active = TRUE
		ORDER BY created_at
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve active monitors", err)
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// UpdateMonitorSync stamps the outcome of a sync run. An empty syncError
// clears any previous failure; the NSU cursor only moves forward here, the
// caller is responsible for never passing a smaller one.
func (d Datasource) UpdateMonitorSync(id, lastNSU, syncError string, syncedAt time.Time) error {
	result, err := d.Conn.Exec(`
		UPDATE cnpj_monitors
		SET last_nsu = $2, sync_error = NULLIF($3, ''), last_sync_at = $4, updated_at = CURRENT_TIMESTAMP
		WHERE monitor_id = $1
	`, id, lastNSU, syncError, syncedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update monitor sync state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update monitor sync state", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Monitor not found", nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMonitor(row rowScanner) (*model.Monitor, error) {
	m := model.Monitor{}
	var legalName, description, syncError sql.NullString
	var lastSyncAt sql.NullTime
	err := row.Scan(&m.MonitorID, &m.OrganizationID, &m.TaxID, &legalName, &description,
		&m.WatchNFe, &m.WatchCTe, &m.WatchNFSe, &m.AsIssuer, &m.AsRecipient, &m.AsCarrier,
		&m.IsActive, &m.LastNSU, &lastSyncAt, &syncError, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.LegalName = legalName.String
	m.Description = description.String
	m.SyncError = syncError.String
	if lastSyncAt.Valid {
		m.LastSyncAt = &lastSyncAt.Time
	}
	return &m, nil
}

func collectMonitors(rows *sql.Rows) ([]model.Monitor, error) {
	monitors := []model.Monitor{}
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan monitor data", err)
		}
		monitors = append(monitors, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over monitors", err)
	}
	return monitors, nil
}

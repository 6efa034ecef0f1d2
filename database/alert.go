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

func (d Datasource) CreateAlert(a model.Alert) (model.Alert, error) {
	a.AlertID = model.GenerateUUIDWithSuffix("alr")
	a.CreatedAt = time.Now()

	_, err := d.Conn.Exec(`
		INSERT INTO alerts (alert_id, organization_id, monitor_id, name, condition, condition_value, channel, destination, is_active)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`, a.AlertID, a.OrganizationID, a.MonitorID, a.Name, a.Condition, a.ConditionValue, a.Channel, a.Destination, a.IsActive)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "foreign_key_violation" {
			return model.Alert{}, apierror.NewAPIError(apierror.ErrNotFound, "Organization does not exist", err)
		}
		return model.Alert{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create alert", err)
	}
	return a, nil
}

func (d Datasource) ListActiveAlerts(organizationID string) ([]model.Alert, error) {
	rows, err := d.Conn.Query(`
		SELECT alert_id, organization_id, monitor_id, name, condition, condition_value,
			channel, destination, is_active, fire_count, last_fired_at, created_at, updated_at
		FROM alerts
		WHERE organization_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve alerts", err)
	}
	defer rows.Close()

	alerts := []model.Alert{}
	for rows.Next() {
		a := model.Alert{}
		var monitorID, conditionValue sql.NullString
		var lastFiredAt sql.NullTime
		err := rows.Scan(&a.AlertID, &a.OrganizationID, &monitorID, &a.Name, &a.Condition, &conditionValue,
			&a.Channel, &a.Destination, &a.IsActive, &a.FireCount, &lastFiredAt, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan alert data", err)
		}
		a.MonitorID = monitorID.String
		a.ConditionValue = conditionValue.String
		if lastFiredAt.Valid {
			a.LastFiredAt = &lastFiredAt.Time
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over alerts", err)
	}
	return alerts, nil
}

// RecordAlertFired bumps the fire counter. Firing never deactivates a rule.
func (d Datasource) RecordAlertFired(id string, at time.Time) error {
	result, err := d.Conn.Exec(`
		UPDATE alerts
		SET fire_count = fire_count + 1, last_fired_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $1
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record alert firing", err)
	}
	return checkAffected(result)
}

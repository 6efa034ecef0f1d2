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
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

func (d Datasource) CreateOrganization(org model.Organization) (model.Organization, error) {
	metaDataJSON, err := json.Marshal(org.MetaData)
	if err != nil {
		return model.Organization{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	org.OrganizationID = model.GenerateUUIDWithSuffix("org")
	org.CreatedAt = time.Now()

	_, err = d.Conn.Exec(`
		INSERT INTO organizations (organization_id, name, tax_id, plan, docs_quota, is_active, cert_pfx, cert_password, access_code, cert_expires_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, org.OrganizationID, org.Name, model.NormalizeTaxID(org.TaxID), org.Plan, org.DocsQuota, org.IsActive,
		org.CertPFX, org.CertPassword, org.AccessCode, org.CertExpiresAt, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return model.Organization{}, apierror.NewAPIError(apierror.ErrConflict, "Organization already exists", err)
		}
		return model.Organization{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create organization", err)
	}
	return org, nil
}

func (d Datasource) GetOrganization(id string) (*model.Organization, error) {
	row := d.Conn.QueryRow(`
		SELECT organization_id, name, tax_id, plan, docs_quota, is_active, cert_pfx, cert_password, access_code, cert_expires_at, meta_data, created_at
		FROM organizations
		WHERE organization_id = $1
	`, id)

	org := model.Organization{}
	var taxID, certPFX, certPassword, accessCode sql.NullString
	var certExpiresAt sql.NullTime
	var metaDataJSON []byte
	err := row.Scan(&org.OrganizationID, &org.Name, &taxID, &org.Plan, &org.DocsQuota, &org.IsActive,
		&certPFX, &certPassword, &accessCode, &certExpiresAt, &metaDataJSON, &org.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Organization not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve organization", err)
	}

	org.TaxID = taxID.String
	org.CertPFX = certPFX.String
	org.CertPassword = certPassword.String
	org.AccessCode = accessCode.String
	if certExpiresAt.Valid {
		org.CertExpiresAt = &certExpiresAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &org.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return &org, nil
}

// CountDocuments returns the number of documents stored for the organization,
// used to enforce the plan quota before inserting.
func (d Datasource) CountDocuments(organizationID string) (int, error) {
	var count int
	err := d.Conn.QueryRow(`
		SELECT COUNT(*) FROM fiscal_documents WHERE organization_id = $1
	`, organizationID).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count documents", err)
	}
	return count, nil
}

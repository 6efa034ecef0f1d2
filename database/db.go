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
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/cache"
)

// Package-level singleton. The datasource is shared by the API server and the
// workers when they run in the same process.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and
// initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error ❌: %v", err)
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema. Statements are idempotent so the call is safe
// on every startup.
func Migrate(db *sql.DB) error {
	steps := []func(*sql.DB) error{
		createOrganizationTable,
		createMonitorTable,
		createFiscalDocumentTable,
		createWebhookTable,
		createWebhookDeliveryTable,
		createAlertTable,
	}
	for _, step := range steps {
		if err := step(db); err != nil {
			return err
		}
	}
	return nil
}

func createOrganizationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS organizations (
			id SERIAL PRIMARY KEY,
			organization_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			tax_id TEXT,
			plan TEXT NOT NULL DEFAULT 'free',
			docs_quota INTEGER NOT NULL DEFAULT 500,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			cert_pfx TEXT,
			cert_password TEXT,
			access_code TEXT,
			cert_expires_at TIMESTAMP,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func createMonitorTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cnpj_monitors (
			id SERIAL PRIMARY KEY,
			monitor_id TEXT NOT NULL UNIQUE,
			organization_id TEXT NOT NULL REFERENCES organizations(organization_id),
			tax_id TEXT NOT NULL,
			legal_name TEXT,
			description TEXT,
			watch_nfe BOOLEAN NOT NULL DEFAULT TRUE,
			watch_cte BOOLEAN NOT NULL DEFAULT FALSE,
			watch_nfse BOOLEAN NOT NULL DEFAULT FALSE,
			as_issuer BOOLEAN NOT NULL DEFAULT FALSE,
			as_recipient BOOLEAN NOT NULL DEFAULT TRUE,
			as_carrier BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_nsu TEXT NOT NULL DEFAULT '000000000000000',
			last_sync_at TIMESTAMP,
			sync_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (organization_id, tax_id)
		)
	`)
	return err
}

func createFiscalDocumentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fiscal_documents (
			id SERIAL PRIMARY KEY,
			document_id TEXT NOT NULL UNIQUE,
			organization_id TEXT NOT NULL REFERENCES organizations(organization_id),
			kind TEXT NOT NULL,
			access_key TEXT NOT NULL,
			number TEXT,
			series TEXT,
			model_code TEXT,
			issuer_tax_id TEXT,
			issuer_name TEXT,
			issuer_state TEXT,
			recipient_tax_id TEXT,
			recipient_name TEXT,
			total_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			icms_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			ipi_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			iss_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			issued_at TIMESTAMP,
			authorized_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'processing',
			protocol TEXT,
			status_reason TEXT,
			operation TEXT,
			cfop TEXT,
			raw_xml TEXT,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (organization_id, access_key)
		);
		CREATE INDEX IF NOT EXISTS idx_fiscal_documents_org_status
			ON fiscal_documents (organization_id, status);
		CREATE INDEX IF NOT EXISTS idx_fiscal_documents_issuer
			ON fiscal_documents (organization_id, issuer_tax_id)
	`)
	return err
}

func createWebhookTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhooks (
			id SERIAL PRIMARY KEY,
			webhook_id TEXT NOT NULL UNIQUE,
			organization_id TEXT NOT NULL REFERENCES organizations(organization_id),
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			events JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_success_at TIMESTAMP,
			last_failure_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func createWebhookDeliveryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id SERIAL PRIMARY KEY,
			delivery_id TEXT NOT NULL UNIQUE,
			webhook_id TEXT NOT NULL REFERENCES webhooks(webhook_id),
			document_id TEXT,
			event TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP,
			response_code INTEGER,
			response_body TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			delivered_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due
			ON webhook_deliveries (status, next_retry_at)
	`)
	return err
}

func createAlertTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id SERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL UNIQUE,
			organization_id TEXT NOT NULL REFERENCES organizations(organization_id),
			monitor_id TEXT,
			name TEXT NOT NULL,
			condition TEXT NOT NULL,
			condition_value TEXT,
			channel TEXT NOT NULL,
			destination TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			fire_count INTEGER NOT NULL DEFAULT 0,
			last_fired_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

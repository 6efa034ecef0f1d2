package model

import "time"

// Organization is the tenant record. Certificate material and the shared
// access code live here because the tax-authority client is built per
// organization; transports are never shared across tenants.
type Organization struct {
	OrganizationID string                 `json:"organization_id"`
	Name           string                 `json:"name"`
	TaxID          string                 `json:"tax_id,omitempty"`
	Plan           string                 `json:"plan"`
	DocsQuota      int                    `json:"docs_quota"`
	IsActive       bool                   `json:"is_active"`
	CertPFX        string                 `json:"-"` // base64-encoded .pfx bundle
	CertPassword   string                 `json:"-"`
	AccessCode     string                 `json:"-"`
	CertExpiresAt  *time.Time             `json:"cert_expires_at,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

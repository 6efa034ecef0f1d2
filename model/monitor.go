package model

import "time"

// Monitor watches a single tax id for one organization. Which document kinds
// and party roles are watched is part of the monitor, so one organization can
// track the same tax id in different capacities.
type Monitor struct {
	MonitorID      string     `json:"monitor_id"`
	OrganizationID string     `json:"organization_id"`
	TaxID          string     `json:"tax_id"`
	LegalName      string     `json:"legal_name,omitempty"`
	Description    string     `json:"description,omitempty"`
	WatchNFe       bool       `json:"watch_nfe"`
	WatchCTe       bool       `json:"watch_cte"`
	WatchNFSe      bool       `json:"watch_nfse"`
	AsIssuer       bool       `json:"as_issuer"`
	AsRecipient    bool       `json:"as_recipient"`
	AsCarrier      bool       `json:"as_carrier"`
	IsActive       bool       `json:"is_active"`
	LastNSU        string     `json:"last_nsu"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	SyncError      string     `json:"sync_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WatchedKinds returns the set of document kinds this monitor cares about.
// An empty set means everything passes the filter.
func (m *Monitor) WatchedKinds() map[string]bool {
	kinds := map[string]bool{}
	if m.WatchNFe {
		kinds[KindNFe] = true
	}
	if m.WatchCTe {
		kinds[KindCTe] = true
	}
	if m.WatchNFSe {
		kinds[KindNFSe] = true
	}
	return kinds
}

package model

import "time"

// Alert rule conditions.
const (
	ConditionNewDocument  = "new_document"
	ConditionCancellation = "cancellation"
	ConditionValueAbove   = "value_above_threshold"
	ConditionSpecificTax  = "specific_tax_id"
)

// Alert notification channels.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Alert is a user-defined rule evaluated against every newly created
// document. Firing never flips IsActive; rules stay enabled until a user
// disables them.
type Alert struct {
	AlertID        string     `json:"alert_id"`
	OrganizationID string     `json:"organization_id"`
	MonitorID      string     `json:"monitor_id,omitempty"`
	Name           string     `json:"name"`
	Condition      string     `json:"condition"`
	ConditionValue string     `json:"condition_value,omitempty"`
	Channel        string     `json:"channel"`
	Destination    string     `json:"destination"`
	IsActive       bool       `json:"is_active"`
	FireCount      int        `json:"fire_count"`
	LastFiredAt    *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

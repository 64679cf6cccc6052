package models

import "time"

// Integration kinds.
const (
	IntegrationSlack   = "slack"
	IntegrationDiscord = "discord"
	IntegrationGitHub  = "github"
)

// Integration holds per-organization settings for an outbound connector.
// One row per (org, kind).
type Integration struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrgID     string `gorm:"size:36;index:idx_org_kind,unique;not null"`
	Kind      string `gorm:"size:16;index:idx_org_kind,unique;not null"`
	Enabled   bool   `gorm:"default:true"`
	Settings  string `gorm:"type:json"` // kind-specific: channel, repo, etc.
	CreatedAt time.Time
	UpdatedAt time.Time

	Org Organization `gorm:"foreignKey:OrgID"`
}

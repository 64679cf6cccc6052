package models

import "time"

// Usage record kinds.
const (
	UsageManualRun    = "manual_run"
	UsageAutomatedRun = "automated_run"
)

// UsageRecord is one raw metering event. Rollups fold these into
// UsagePeriod rows; raw records are the source of truth.
type UsageRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OrgID     string `gorm:"size:36;index;not null"`
	Kind      string `gorm:"size:32;not null"`
	Quantity  int    `gorm:"default:1"`
	CycleID   string `gorm:"size:36"`
	RolledUp  bool   `gorm:"default:false;index"`
	CreatedAt time.Time
}

// UsagePeriod is an aggregated per-org usage bucket, one row per
// (org, kind, period start).
type UsagePeriod struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	OrgID       string    `gorm:"size:36;index:idx_org_kind_period,unique;not null"`
	Kind        string    `gorm:"size:32;index:idx_org_kind_period,unique;not null"`
	PeriodStart time.Time `gorm:"index:idx_org_kind_period,unique"`
	Quantity    int       `gorm:"default:0"`
	UpdatedAt   time.Time
}

// APIToken records an issued bearer token so it can be listed and revoked.
// Only the token's ID (the JWT jti claim) is stored, never the token itself.
type APIToken struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrgID     string `gorm:"size:36;index;not null"`
	MemberID  string `gorm:"size:36;index"`
	Label     string `gorm:"size:128"`
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

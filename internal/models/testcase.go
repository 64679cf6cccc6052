package models

import "time"

// Project groups test cases and cycles within an organization.
type Project struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrgID     string `gorm:"size:36;index;not null"`
	Name      string `gorm:"not null;size:128"`
	Key       string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Org Organization `gorm:"foreignKey:OrgID"`
}

// TestCase is a reusable manual test definition. Its steps are copied into
// a cycle item at cycle creation, so later edits never rewrite history.
type TestCase struct {
	ID          string `gorm:"primaryKey;size:36"`
	OrgID       string `gorm:"size:36;index;not null"`
	ProjectID   string `gorm:"size:36;index"`
	Title       string `gorm:"not null;size:255"`
	Description string `gorm:"type:text"`
	Priority    int    `gorm:"default:2"`
	Tags        string `gorm:"type:json"`
	Steps       string `gorm:"type:json"` // []CaseStep
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Org     Organization `gorm:"foreignKey:OrgID"`
	Project *Project     `gorm:"foreignKey:ProjectID"`
}

// CaseStep is one action/expected-result pair in a test case definition.
// Stored as JSON on TestCase; materialized as ManualStep rows per cycle item.
type CaseStep struct {
	Action         string `json:"action"`
	ExpectedResult string `json:"expectedResult"`
}

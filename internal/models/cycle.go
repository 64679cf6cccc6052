package models

import (
	"time"

	"github.com/verdantqa/greenlight/internal/status"
)

// Cycle is a named run of manual and automated test items executed together.
// Status and the summary columns are derived from the item rows; they are
// cached here for cheap list reads and recomputed on every item mutation.
type Cycle struct {
	ID        string             `gorm:"primaryKey;size:36"`
	OrgID     string             `gorm:"size:36;index;not null"`
	ProjectID string             `gorm:"size:36;index"`
	Name      string             `gorm:"not null;size:255"`
	Status    status.CycleStatus `gorm:"size:16;default:PENDING;index"`

	// Derived summary cache.
	Total          int `gorm:"default:0"`
	Passed         int `gorm:"default:0"`
	Failed         int `gorm:"default:0"`
	AutomationRate int `gorm:"default:0"`

	// Version guards summary recomputation against concurrent writers.
	Version int `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Org   Organization `gorm:"foreignKey:OrgID"`
	Items []CycleItem  `gorm:"foreignKey:CycleID"`
}

// CycleItem is one manual case or automated run tracked within a cycle.
// Items are rows of their own so a status write touches exactly one row.
type CycleItem struct {
	ID      string            `gorm:"primaryKey;size:36"`
	CycleID string            `gorm:"size:36;index;not null"`
	OrgID   string            `gorm:"size:36;index;not null"`
	Type    status.ItemType   `gorm:"size:16;not null"`
	Title   string            `gorm:"not null;size:255"`
	Status  status.ItemStatus `gorm:"size:16;default:PENDING;index"`

	// Set for AUTOMATED items once a run is linked.
	ExecutionID *string `gorm:"size:36;index"`

	// Set for MANUAL items; references the case the steps were copied from.
	TestCaseID *string `gorm:"size:36"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	Cycle Cycle        `gorm:"foreignKey:CycleID"`
	Steps []ManualStep `gorm:"foreignKey:ItemID"`
}

// ManualStep is one checklist entry of a manual item. Action and expected
// result are frozen at cycle creation; status and comment are recorded when
// the human submits the run.
type ManualStep struct {
	ID             string            `gorm:"primaryKey;size:36"`
	ItemID         string            `gorm:"size:36;index;not null"`
	Position       int               `gorm:"not null"`
	Action         string            `gorm:"type:text"`
	ExpectedResult string            `gorm:"type:text"`
	Status         status.StepStatus `gorm:"size:16;default:PENDING"`
	Comment        string            `gorm:"type:text"`

	Item CycleItem `gorm:"foreignKey:ItemID"`
}

// Execution is the external automated-run record a cycle item links to by
// reference. The worker owns its lifecycle; we track the terminal report.
type Execution struct {
	ID         string            `gorm:"primaryKey;size:36"`
	OrgID      string            `gorm:"size:36;index;not null"`
	Status     status.ItemStatus `gorm:"size:16;default:PENDING;index"`
	RunURL     string            `gorm:"size:512"`
	StartedAt  time.Time
	FinishedAt *time.Time

	Org Organization `gorm:"foreignKey:OrgID"`
}

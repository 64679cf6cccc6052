package models

import "time"

// Organization is the tenant boundary. Every owned row carries OrgID and
// every query is scoped by it.
type Organization struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"not null;size:128"`
	Slug      string `gorm:"uniqueIndex;size:64"`
	Plan      string `gorm:"size:16;default:free"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Members []Member `gorm:"foreignKey:OrgID"`
}

// Member ties a user identity to an organization with a role.
type Member struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrgID     string `gorm:"size:36;index;not null"`
	Email     string `gorm:"size:255;index;not null"`
	Name      string `gorm:"size:128"`
	Role      string `gorm:"size:16;default:member"`
	CreatedAt time.Time

	Org Organization `gorm:"foreignKey:OrgID"`
}

// Invitation is a pending offer to join an organization. Delivery of the
// token is out of scope; acceptance consumes it.
type Invitation struct {
	ID         string `gorm:"primaryKey;size:36"`
	OrgID      string `gorm:"size:36;index;not null"`
	Email      string `gorm:"size:255;not null"`
	Role       string `gorm:"size:16;default:member"`
	Token      string `gorm:"uniqueIndex;size:64"`
	CreatedAt  time.Time
	ExpiresAt  time.Time
	AcceptedAt *time.Time

	Org Organization `gorm:"foreignKey:OrgID"`
}

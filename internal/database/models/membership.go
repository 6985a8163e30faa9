package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/authz"
)

// Membership links one user to one organization with a role. Removal
// deactivates the row rather than deleting it, so history is preserved.
type Membership struct {
	Base
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uq_user_organization;index" json:"user_id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uq_user_organization;index" json:"organization_id"`
	Role           authz.Role `gorm:"size:50;not null;default:'viewer'" json:"role"`
	IsActive       bool       `gorm:"not null" json:"is_active"`
	JoinedAt       time.Time  `gorm:"not null" json:"joined_at"`
	InvitedByID    *uuid.UUID `gorm:"type:uuid" json:"invited_by_id,omitempty"`

	// Relationships
	User         *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"-"`
	InvitedBy    *User         `gorm:"foreignKey:InvitedByID" json:"-"`
}

func (Membership) TableName() string {
	return "memberships"
}

// Grant returns the authorization view of m. A nil membership yields a nil
// grant, which authz treats as "not a member".
func (m *Membership) Grant() *authz.Grant {
	if m == nil {
		return nil
	}
	return &authz.Grant{Role: m.Role, Active: m.IsActive}
}

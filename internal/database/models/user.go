package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type User struct {
	Base
	Email        string  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash *string `gorm:"size:255" json:"-"` // nil for OAuth-only accounts
	FullName     string  `gorm:"size:255;not null" json:"full_name"`
	IsActive     bool    `gorm:"not null" json:"is_active"`
	IsVerified   bool    `gorm:"not null" json:"is_verified"`

	// OAuth linkage (social login)
	OAuthProvider *string `gorm:"column:oauth_provider;size:50;uniqueIndex:idx_users_oauth" json:"oauth_provider,omitempty"`
	OAuthID       *string `gorm:"column:oauth_id;size:255;uniqueIndex:idx_users_oauth" json:"-"`
	OAuthToken    []byte  `gorm:"column:oauth_token" json:"-"` // age encrypted provider token

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// Relationships
	Memberships []Membership `gorm:"foreignKey:UserID" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// BeforeSave keeps emails lower-cased so uniqueness is case-insensitive.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	return nil
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

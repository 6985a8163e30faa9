package dto

import (
	"strings"
	"time"

	"github.com/hugh/insightforge/internal/api/validation"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/internal/database/models"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	OrgName  string `json:"org_name,omitempty"`
}

func (r RegisterRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	} else if !validation.IsValidEmail(strings.TrimSpace(r.Email)) {
		errors["email"] = "Invalid email format"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	} else if ok, msg := validation.IsValidPassword(r.Password); !ok {
		errors["password"] = msg
	}
	if strings.TrimSpace(r.FullName) == "" {
		errors["full_name"] = "Full name is required"
	}
	if len(r.OrgName) > 255 {
		errors["org_name"] = "Organization name must be at most 255 characters"
	}

	return errors
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r ChangePasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.NewPassword == "" {
		errors["new_password"] = "New password is required"
	} else if ok, msg := validation.IsValidPassword(r.NewPassword); !ok {
		errors["new_password"] = msg
	}

	return errors
}

type AuthResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int              `json:"expires_in"`
	User         UserDTO          `json:"user"`
	Organization *OrganizationDTO `json:"organization,omitempty"`
}

type UserDTO struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	IsActive      bool       `json:"is_active"`
	IsVerified    bool       `json:"is_verified"`
	HasPassword   bool       `json:"has_password"`
	OAuthProvider string     `json:"oauth_provider,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func NewUserDTO(u *models.User) UserDTO {
	d := UserDTO{
		ID:          u.ID.String(),
		Email:       u.Email,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		IsVerified:  u.IsVerified,
		HasPassword: u.HasPassword(),
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
	if u.OAuthProvider != nil {
		d.OAuthProvider = *u.OAuthProvider
	}
	return d
}

func NewAuthResponse(resp *auth.AuthResponse) AuthResponse {
	out := AuthResponse{
		AccessToken:  resp.Tokens.AccessToken,
		RefreshToken: resp.Tokens.RefreshToken,
		TokenType:    resp.Tokens.TokenType,
		ExpiresIn:    resp.Tokens.ExpiresIn,
		User:         NewUserDTO(resp.User),
	}
	if resp.Organization != nil {
		org := NewOrganizationDTO(resp.Organization, "owner")
		out.Organization = &org
	}
	return out
}

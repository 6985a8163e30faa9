package dto

import (
	"strings"
	"time"

	"github.com/hugh/insightforge/internal/api/validation"
	"github.com/hugh/insightforge/internal/database/models"
)

type CreateOrganizationRequest struct {
	Name        string  `json:"name"`
	Slug        string  `json:"slug,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (r CreateOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if strings.TrimSpace(r.Name) == "" {
		errors["name"] = "Name is required"
	} else if len(r.Name) > 255 {
		errors["name"] = "Name must be at most 255 characters"
	}
	if r.Slug != "" && !validation.IsValidSlug(r.Slug) {
		errors["slug"] = "Slug may only contain lowercase letters, numbers and single dashes"
	}
	if r.Description != nil && len(*r.Description) > 1000 {
		errors["description"] = "Description must be at most 1000 characters"
	}

	return errors
}

type UpdateOrganizationRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

type UsageDTO struct {
	Datasets     int `json:"datasets"`
	MaxDatasets  int `json:"max_datasets"`
	StorageMB    int `json:"storage_mb"`
	MaxStorageMB int `json:"max_storage_mb"`
	Queries      int `json:"queries"`
	MaxQueries   int `json:"max_queries_per_month"`
}

type OrganizationDTO struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description *string        `json:"description,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	Usage       UsageDTO       `json:"usage"`
	Role        string         `json:"role,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewOrganizationDTO(o *models.Organization, role string) OrganizationDTO {
	return OrganizationDTO{
		ID:          o.ID.String(),
		Name:        o.Name,
		Slug:        o.Slug,
		Description: o.Description,
		Settings:    o.Settings,
		Usage: UsageDTO{
			Datasets:     o.CurrentDatasetCount,
			MaxDatasets:  o.MaxDatasets,
			StorageMB:    o.CurrentStorageMB,
			MaxStorageMB: o.MaxStorageMB,
			Queries:      o.CurrentQueryCount,
			MaxQueries:   o.MaxQueriesPerMonth,
		},
		Role:      role,
		CreatedAt: o.CreatedAt,
	}
}

type AddMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (r AddMemberRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if !validation.IsValidEmail(strings.TrimSpace(r.Email)) {
		errors["email"] = "Invalid email format"
	}
	if r.Role == "" {
		errors["role"] = "Role is required"
	}

	return errors
}

type UpdateMemberRequest struct {
	Role string `json:"role"`
}

type MemberDTO struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email,omitempty"`
	FullName string    `json:"full_name,omitempty"`
	Role     string    `json:"role"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

func NewMemberDTO(m *models.Membership) MemberDTO {
	d := MemberDTO{
		UserID:   m.UserID.String(),
		Role:     string(m.Role),
		IsActive: m.IsActive,
		JoinedAt: m.JoinedAt,
	}
	if m.User != nil {
		d.Email = m.User.Email
		d.FullName = m.User.FullName
	}
	return d
}

// UsageRequest is a relative change to an organization's usage counters.
type UsageRequest struct {
	Datasets  int `json:"datasets"`
	StorageMB int `json:"storage_mb"`
	Queries   int `json:"queries"`
}

type UsageResponse struct {
	Queued       bool             `json:"queued"`
	TaskID       string           `json:"task_id,omitempty"`
	Organization *OrganizationDTO `json:"organization,omitempty"`
}

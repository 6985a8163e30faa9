// Package tenancy manages organizations, their memberships and their usage
// counters. Authorization decisions are delegated to package authz.
package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
	"gorm.io/gorm"
)

var (
	ErrOrganizationNotFound = apperr.NotFound("Organization", "")
	ErrMembershipNotFound   = apperr.NotFound("Membership", "")
)

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

type CreateOrganizationInput struct {
	Name        string
	Slug        string // derived from Name when empty
	Description *string
}

type UpdateOrganizationInput struct {
	Name        *string
	Description *string
	Settings    map[string]any
}

// UserOrganization is an organization seen from one member.
type UserOrganization struct {
	Organization *models.Organization `json:"organization"`
	Role         authz.Role           `json:"role"`
	JoinedAt     time.Time            `json:"joined_at"`
}

// CreateOrganization creates an organization owned by ownerID.
func (s *Service) CreateOrganization(ctx context.Context, ownerID uuid.UUID, input CreateOrganizationInput) (*models.Organization, error) {
	var org *models.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		org, err = CreateWithOwner(ctx, tx, input, ownerID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("organization created", "org_id", org.ID, "slug", org.Slug, "owner_id", ownerID)
	return org, nil
}

// CreateWithOwner inserts an organization and an active owner membership
// inside tx. Registration uses it to create the user's first organization in
// the same transaction as the user.
func CreateWithOwner(ctx context.Context, tx *gorm.DB, input CreateOrganizationInput, ownerID uuid.UUID, now time.Time) (*models.Organization, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperr.Validation("Organization name is required", "name")
	}

	var slug string
	if input.Slug != "" {
		slug = strings.ToLower(strings.TrimSpace(input.Slug))
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
		taken, err := slugTaken(ctx, tx, slug)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, apperr.AlreadyExists("Organization", "slug", slug)
		}
	} else {
		var err error
		if slug, err = uniqueSlug(ctx, tx, Slugify(name)); err != nil {
			return nil, err
		}
	}

	org := models.NewOrganization(name, slug)
	org.Description = input.Description
	if err := tx.WithContext(ctx).Create(org).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.AlreadyExists("Organization", "slug", slug)
		}
		return nil, err
	}

	membership := &models.Membership{
		UserID:         ownerID,
		OrganizationID: org.ID,
		Role:           authz.RoleOwner,
		IsActive:       true,
		JoinedAt:       now.UTC(),
	}
	if err := tx.WithContext(ctx).Create(membership).Error; err != nil {
		return nil, err
	}

	return org, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).Where("slug = ?", strings.ToLower(slug)).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Organization", slug)
		}
		return nil, err
	}
	return &org, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Organization", id.String())
		}
		return nil, err
	}
	return &org, nil
}

// ListForUser returns the organizations userID is an active member of,
// oldest membership first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]UserOrganization, error) {
	var memberships []models.Membership
	if err := s.db.WithContext(ctx).
		Joins("Organization").
		Where("memberships.user_id = ? AND memberships.is_active = ?", userID, true).
		Order("memberships.joined_at ASC").
		Find(&memberships).Error; err != nil {
		return nil, err
	}

	out := make([]UserOrganization, 0, len(memberships))
	for i := range memberships {
		m := memberships[i]
		if m.Organization == nil || m.Organization.ID == uuid.Nil {
			continue
		}
		out = append(out, UserOrganization{Organization: m.Organization, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	return out, nil
}

func (s *Service) UpdateOrganization(ctx context.Context, orgID uuid.UUID, input UpdateOrganizationInput) (*models.Organization, error) {
	org, err := s.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperr.Validation("Organization name cannot be empty", "name")
		}
		org.Name = name
	}
	if input.Description != nil {
		org.Description = input.Description
	}
	if input.Settings != nil {
		org.Settings = input.Settings
	}

	if err := s.db.WithContext(ctx).Save(org).Error; err != nil {
		return nil, err
	}
	return org, nil
}

// DeleteOrganization soft-deletes the organization and deactivates every
// membership in it.
func (s *Service) DeleteOrganization(ctx context.Context, orgID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Membership{}).
			Where("organization_id = ?", orgID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Organization{}, "id = ?", orgID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("Organization", orgID.String())
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("organization deleted", "org_id", orgID)
	return nil
}

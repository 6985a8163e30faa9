package tenancy

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/hugh/insightforge/internal/metrics"
	"gorm.io/gorm"
)

var (
	ErrLastOwner     = apperr.Validation("An organization must keep at least one active owner", "role")
	ErrOwnerRequired = apperr.Denied("Only an owner can grant, revoke or remove the owner role")
)

type AddMemberInput struct {
	Email string
	Role  authz.Role
}

// GetMembership returns the membership of userID in orgID, active or not.
func (s *Service) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Authorize resolves the membership of userID in orgID and decides whether
// it permits action. On success the membership is returned so callers can
// reuse the member's role.
func (s *Service) Authorize(ctx context.Context, userID, orgID uuid.UUID, action authz.Action) (*models.Membership, error) {
	m, err := s.GetMembership(ctx, userID, orgID)
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return nil, err
	}
	if err != nil {
		m = nil
	}

	if err := authz.Authorize(m.Grant(), action); err != nil {
		metrics.AuthorizationDecisionsTotal.WithLabelValues(string(action), metrics.ResultDenied).Inc()
		if errors.Is(err, authz.ErrUnknownRole) {
			s.logger.Error("membership has unrecognized role",
				"membership_id", m.ID,
				"role", string(m.Role),
				"org_id", orgID,
				"user_id", userID,
			)
		}
		return nil, err
	}

	metrics.AuthorizationDecisionsTotal.WithLabelValues(string(action), metrics.ResultAllowed).Inc()
	return m, nil
}

// ListMembers returns the members of orgID with their users preloaded.
func (s *Service) ListMembers(ctx context.Context, orgID uuid.UUID, includeInactive bool) ([]models.Membership, error) {
	q := s.db.WithContext(ctx).
		Preload("User").
		Where("organization_id = ?", orgID)
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}

	var members []models.Membership
	if err := q.Order("joined_at ASC").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// AddMember adds the user registered under input.Email to orgID. A user who
// was removed earlier gets the existing membership reactivated with the new
// role. Only owners may add other owners.
func (s *Service) AddMember(ctx context.Context, actor *models.Membership, orgID uuid.UUID, input AddMemberInput) (*models.Membership, error) {
	if !input.Role.Valid() {
		return nil, apperr.Validation("Unknown role", "role")
	}
	if input.Role == authz.RoleOwner && actor.Role != authz.RoleOwner {
		return nil, ErrOwnerRequired
	}

	email := models.NormalizeEmail(input.Email)
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User", email)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.Validation("Cannot add an inactive user", "email")
	}

	var result *models.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Membership
		err := tx.Where("user_id = ? AND organization_id = ?", user.ID, orgID).First(&existing).Error
		switch {
		case err == nil && existing.IsActive:
			return apperr.AlreadyExists("Membership", "email", email)
		case err == nil:
			existing.Role = input.Role
			existing.IsActive = true
			existing.JoinedAt = s.now().UTC()
			existing.InvitedByID = &actor.UserID
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = &existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		m := &models.Membership{
			UserID:         user.ID,
			OrganizationID: orgID,
			Role:           input.Role,
			IsActive:       true,
			JoinedAt:       s.now().UTC(),
			InvitedByID:    &actor.UserID,
		}
		if err := tx.Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.AlreadyExists("Membership", "email", email)
			}
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.User = &user
	s.logger.Info("member added",
		"org_id", orgID,
		"user_id", user.ID,
		"role", string(input.Role),
		"invited_by", actor.UserID,
	)
	return result, nil
}

// ChangeRole sets the role of targetUserID in the actor's organization.
func (s *Service) ChangeRole(ctx context.Context, actor *models.Membership, targetUserID uuid.UUID, role authz.Role) (*models.Membership, error) {
	if !role.Valid() {
		return nil, apperr.Validation("Unknown role", "role")
	}

	var target *models.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := activeMembership(ctx, tx, targetUserID, actor.OrganizationID)
		if err != nil {
			return err
		}
		if m.Role == role {
			target = m
			return nil
		}
		if (m.Role == authz.RoleOwner || role == authz.RoleOwner) && actor.Role != authz.RoleOwner {
			return ErrOwnerRequired
		}
		if m.Role == authz.RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, m); err != nil {
				return err
			}
		}

		m.Role = role
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		target = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("member role changed",
		"org_id", actor.OrganizationID,
		"user_id", targetUserID,
		"role", string(role),
		"changed_by", actor.UserID,
	)
	return target, nil
}

// RemoveMember deactivates the membership of targetUserID. Members may remove
// themselves; removing an owner requires an owner, and the last active owner
// can never be removed.
func (s *Service) RemoveMember(ctx context.Context, actor *models.Membership, targetUserID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := activeMembership(ctx, tx, targetUserID, actor.OrganizationID)
		if err != nil {
			return err
		}
		if m.Role == authz.RoleOwner {
			if actor.Role != authz.RoleOwner {
				return ErrOwnerRequired
			}
			if err := ensureAnotherOwner(ctx, tx, m); err != nil {
				return err
			}
		}

		m.IsActive = false
		return tx.Save(m).Error
	})
	if err != nil {
		return err
	}

	s.logger.Info("member removed",
		"org_id", actor.OrganizationID,
		"user_id", targetUserID,
		"removed_by", actor.UserID,
	)
	return nil
}

func activeMembership(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	err := tx.WithContext(ctx).
		Where("user_id = ? AND organization_id = ? AND is_active = ?", userID, orgID, true).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Membership", userID.String())
		}
		return nil, err
	}
	return &m, nil
}

func ensureAnotherOwner(ctx context.Context, tx *gorm.DB, owner *models.Membership) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Membership{}).
		Where("organization_id = ? AND role = ? AND is_active = ? AND id <> ?",
			owner.OrganizationID, authz.RoleOwner, true, owner.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrLastOwner
	}
	return nil
}

// ParseRoleInput parses a role supplied by a client.
func ParseRoleInput(s string) (authz.Role, error) {
	r, err := authz.ParseRole(strings.TrimSpace(s))
	if err != nil {
		return "", apperr.Validation("Role must be one of owner, admin, analyst, viewer", "role")
	}
	return r, nil
}

package tenancy

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/database/models"
	"gorm.io/gorm"
)

const (
	minSlugLen = 3
	maxSlugLen = 100
)

var (
	slugRegex    = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidateSlug checks that slug is lower-case alphanumeric words joined by
// single dashes.
func ValidateSlug(slug string) error {
	if len(slug) < minSlugLen || len(slug) > maxSlugLen {
		return apperr.Validation("Slug must be between 3 and 100 characters", "slug")
	}
	if !slugRegex.MatchString(slug) {
		return apperr.Validation("Slug may only contain lowercase letters, numbers and single dashes", "slug")
	}
	return nil
}

// Slugify derives a slug from a display name.
func Slugify(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen-9 {
		slug = strings.TrimRight(slug[:maxSlugLen-9], "-")
	}
	for len(slug) < minSlugLen {
		slug += "-org"
		slug = strings.TrimLeft(slug, "-")
	}
	return slug
}

// uniqueSlug returns base, or base with a short random suffix when base is
// already taken. Soft-deleted organizations still hold their slug.
func uniqueSlug(ctx context.Context, tx *gorm.DB, base string) (string, error) {
	slug := base
	for i := 0; i < 5; i++ {
		taken, err := slugTaken(ctx, tx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = base + "-" + uuid.NewString()[:8]
	}
	return "", apperr.AlreadyExists("Organization", "slug", base)
}

func slugTaken(ctx context.Context, tx *gorm.DB, slug string) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).Unscoped().
		Model(&models.Organization{}).
		Where("slug = ?", slug).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/database/models"
	"gorm.io/gorm"
)

const maxUsageRetries = 3

var errUsageConflict = errors.New("usage counters changed concurrently")

// UsageDelta is a relative change to an organization's usage counters.
// Negative values release capacity; counters never drop below zero.
type UsageDelta struct {
	Datasets  int `json:"datasets"`
	StorageMB int `json:"storage_mb"`
	Queries   int `json:"queries"`
}

func (d UsageDelta) IsZero() bool {
	return d.Datasets == 0 && d.StorageMB == 0 && d.Queries == 0
}

// AdjustUsage applies delta to the counters of orgID. An increase that would
// take any counter past its limit is rejected as a whole with
// usage_limit_exceeded; decreases always succeed.
func (s *Service) AdjustUsage(ctx context.Context, orgID uuid.UUID, delta UsageDelta) (*models.Organization, error) {
	org, _, err := s.adjustUsage(ctx, orgID, delta, "")
	return org, err
}

// ApplyUsageOnce is AdjustUsage for changes delivered at least once. The
// change is recorded under key in the same transaction as the counters, and
// a key seen before leaves the counters alone and reports applied as false.
func (s *Service) ApplyUsageOnce(ctx context.Context, orgID uuid.UUID, delta UsageDelta, key string) (org *models.Organization, applied bool, err error) {
	if key == "" {
		return nil, false, apperr.Validation("Adjustment key is required", "adjustment_key")
	}
	return s.adjustUsage(ctx, orgID, delta, key)
}

func (s *Service) adjustUsage(ctx context.Context, orgID uuid.UUID, delta UsageDelta, key string) (*models.Organization, bool, error) {
	for attempt := 0; attempt < maxUsageRetries; attempt++ {
		var (
			result  *models.Organization
			applied bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var org models.Organization
			if err := tx.First(&org, "id = ?", orgID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("Organization", orgID.String())
				}
				return err
			}
			result = &org

			if key != "" {
				var seen int64
				if err := tx.Model(&models.UsageAdjustment{}).Where("adjustment_key = ?", key).Count(&seen).Error; err != nil {
					return err
				}
				if seen > 0 {
					return nil
				}
			}
			if delta.IsZero() {
				return nil
			}

			next, err := applyDelta(&org, delta)
			if err != nil {
				return err
			}

			// Compare-and-swap on the counters read above.
			update := tx.Model(&models.Organization{}).
				Where("id = ? AND current_dataset_count = ? AND current_storage_mb = ? AND current_query_count = ?",
					org.ID, org.CurrentDatasetCount, org.CurrentStorageMB, org.CurrentQueryCount).
				Updates(map[string]any{
					"current_dataset_count": next.CurrentDatasetCount,
					"current_storage_mb":    next.CurrentStorageMB,
					"current_query_count":   next.CurrentQueryCount,
				})
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected != 1 {
				return errUsageConflict
			}

			if key != "" {
				record := &models.UsageAdjustment{
					AdjustmentKey:  key,
					OrganizationID: orgID,
					Datasets:       delta.Datasets,
					StorageMB:      delta.StorageMB,
					Queries:        delta.Queries,
				}
				if err := tx.Create(record).Error; err != nil {
					// Another delivery of the same change committed first.
					if errors.Is(err, gorm.ErrDuplicatedKey) {
						return errUsageConflict
					}
					return err
				}
			}

			result = next
			applied = true
			return nil
		})
		if errors.Is(err, errUsageConflict) {
			s.logger.Debug("usage update conflict, retrying", "org_id", orgID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return result, applied, nil
	}
	return nil, false, fmt.Errorf("adjusting usage for %s: %w", orgID, errUsageConflict)
}

// PruneUsageAdjustments forgets applied changes recorded before cutoff.
func (s *Service) PruneUsageAdjustments(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Unscoped().
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.UsageAdjustment{})
	return result.RowsAffected, result.Error
}

func applyDelta(org *models.Organization, d UsageDelta) (*models.Organization, error) {
	next := *org
	next.CurrentDatasetCount = clampZero(org.CurrentDatasetCount + d.Datasets)
	next.CurrentStorageMB = clampZero(org.CurrentStorageMB + d.StorageMB)
	next.CurrentQueryCount = clampZero(org.CurrentQueryCount + d.Queries)

	if d.Datasets > 0 && next.IsOverDatasetLimit() {
		return nil, apperr.UsageLimitExceeded("datasets", org.CurrentDatasetCount, org.MaxDatasets)
	}
	if d.StorageMB > 0 && next.IsOverStorageLimit() {
		return nil, apperr.UsageLimitExceeded("storage_mb", org.CurrentStorageMB, org.MaxStorageMB)
	}
	if d.Queries > 0 && next.IsOverQueryLimit() {
		return nil, apperr.UsageLimitExceeded("queries_per_month", org.CurrentQueryCount, org.MaxQueriesPerMonth)
	}
	return &next, nil
}

func clampZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ResetQueryCounts zeroes the monthly query counter of every organization
// whose counter belongs to a period before periodStart. Running it twice for
// the same period resets nothing the second time.
func (s *Service) ResetQueryCounts(ctx context.Context, periodStart time.Time) (int64, error) {
	periodStart = periodStart.UTC()
	result := s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("query_period_start IS NULL OR query_period_start < ?", periodStart).
		Updates(map[string]any{
			"current_query_count": 0,
			"query_period_start":  periodStart,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	s.logger.Info("query counters reset", "period_start", periodStart, "organizations", result.RowsAffected)
	return result.RowsAffected, nil
}

// WithClock returns a copy of the service that reads the current time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

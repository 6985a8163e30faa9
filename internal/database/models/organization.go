package models

import (
	"time"

	"github.com/google/uuid"
)

// Free tier limits.
const (
	DefaultMaxDatasets        = 10
	DefaultMaxStorageMB       = 100
	DefaultMaxQueriesPerMonth = 1000
)

type Organization struct {
	Base
	Name        string         `gorm:"size:255;not null" json:"name"`
	Slug        string         `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	Description *string        `gorm:"size:1000" json:"description,omitempty"`
	Settings    map[string]any `gorm:"type:jsonb;serializer:json" json:"settings"`

	// Usage limits
	MaxDatasets        int `gorm:"not null" json:"max_datasets"`
	MaxStorageMB       int `gorm:"not null" json:"max_storage_mb"`
	MaxQueriesPerMonth int `gorm:"not null" json:"max_queries_per_month"`

	// Current usage, mutated by the usage tasks
	CurrentDatasetCount int `gorm:"not null;default:0" json:"current_dataset_count"`
	CurrentStorageMB    int `gorm:"not null;default:0" json:"current_storage_mb"`
	CurrentQueryCount   int `gorm:"not null;default:0" json:"current_query_count"`

	// Start of the billing period CurrentQueryCount belongs to
	QueryPeriodStart *time.Time `json:"query_period_start,omitempty"`

	// Relationships
	Memberships []Membership `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization returns an organization on the free tier.
func NewOrganization(name, slug string) *Organization {
	return &Organization{
		Name:               name,
		Slug:               slug,
		Settings:           map[string]any{},
		MaxDatasets:        DefaultMaxDatasets,
		MaxStorageMB:       DefaultMaxStorageMB,
		MaxQueriesPerMonth: DefaultMaxQueriesPerMonth,
	}
}

func (o *Organization) IsOverDatasetLimit() bool {
	return o.CurrentDatasetCount > o.MaxDatasets
}

func (o *Organization) IsOverStorageLimit() bool {
	return o.CurrentStorageMB > o.MaxStorageMB
}

func (o *Organization) IsOverQueryLimit() bool {
	return o.CurrentQueryCount > o.MaxQueriesPerMonth
}

// UsageAdjustment records a queued usage change that has been applied, so a
// redelivered task does not count it twice.
type UsageAdjustment struct {
	Base
	AdjustmentKey  string    `gorm:"size:255;uniqueIndex;not null" json:"adjustment_key"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	Datasets       int       `gorm:"not null" json:"datasets"`
	StorageMB      int       `gorm:"not null" json:"storage_mb"`
	Queries        int       `gorm:"not null" json:"queries"`
}

func (UsageAdjustment) TableName() string {
	return "usage_adjustments"
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/insightforge/internal/database/models"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/hugh/insightforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T) (*Handler, *gorm.DB, *models.Organization) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	owner := testutil.CreateTestUser(t, db)
	org := testutil.CreateTestOrg(t, db, owner)

	h := NewHandler(tenancy.NewService(db, testutil.DiscardLogger()), testutil.DiscardLogger(), "0 0 1 * *")
	return h, db, org
}

func usageTask(t *testing.T, payload UsageAdjustPayload) *asynq.Task {
	t.Helper()
	if payload.AdjustmentID == uuid.Nil {
		payload.AdjustmentID = uuid.New()
	}
	task, err := NewUsageAdjustTask(payload)
	require.NoError(t, err)
	return task
}

func TestNewUsageAdjustTask(t *testing.T) {
	orgID := uuid.New()
	task := usageTask(t, UsageAdjustPayload{OrganizationID: orgID, Datasets: 2})

	assert.Equal(t, TypeUsageAdjust, task.Type())

	var payload UsageAdjustPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, orgID, payload.OrganizationID)
	assert.Equal(t, 2, payload.Datasets)
	assert.NotEqual(t, uuid.Nil, payload.AdjustmentID)
}

func TestHandleUsageAdjust(t *testing.T) {
	h, db, org := newTestHandler(t)

	err := h.HandleUsageAdjust(context.Background(), usageTask(t, UsageAdjustPayload{
		OrganizationID: org.ID,
		Datasets:       3,
		StorageMB:      40,
	}))
	require.NoError(t, err)

	var got models.Organization
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Equal(t, 3, got.CurrentDatasetCount)
	assert.Equal(t, 40, got.CurrentStorageMB)
}

func TestHandleUsageAdjust_RedeliveryAppliesOnce(t *testing.T) {
	h, db, org := newTestHandler(t)
	task := usageTask(t, UsageAdjustPayload{OrganizationID: org.ID, Datasets: 2, Queries: 5})

	require.NoError(t, h.HandleUsageAdjust(context.Background(), task))
	require.NoError(t, h.HandleUsageAdjust(context.Background(), task))

	var got models.Organization
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Equal(t, 2, got.CurrentDatasetCount)
	assert.Equal(t, 5, got.CurrentQueryCount)

	// A different change with the same delta still counts.
	require.NoError(t, h.HandleUsageAdjust(context.Background(),
		usageTask(t, UsageAdjustPayload{OrganizationID: org.ID, Datasets: 2, Queries: 5})))
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Equal(t, 4, got.CurrentDatasetCount)
}

func TestHandleUsageAdjust_MissingAdjustmentID(t *testing.T) {
	h, db, org := newTestHandler(t)

	data, err := json.Marshal(UsageAdjustPayload{OrganizationID: org.ID, Datasets: 1})
	require.NoError(t, err)
	err = h.HandleUsageAdjust(context.Background(), asynq.NewTask(TypeUsageAdjust, data))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	var got models.Organization
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Zero(t, got.CurrentDatasetCount)
}

func TestHandleUsageAdjust_LimitExceededIsNotRetried(t *testing.T) {
	h, db, org := newTestHandler(t)

	err := h.HandleUsageAdjust(context.Background(), usageTask(t, UsageAdjustPayload{
		OrganizationID: org.ID,
		Datasets:       models.DefaultMaxDatasets + 1,
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	var got models.Organization
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Zero(t, got.CurrentDatasetCount)
}

func TestHandleUsageAdjust_UnknownOrganization(t *testing.T) {
	h, _, _ := newTestHandler(t)

	err := h.HandleUsageAdjust(context.Background(), usageTask(t, UsageAdjustPayload{
		OrganizationID: uuid.New(),
		Datasets:       1,
	}))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleUsageAdjust_InvalidPayload(t *testing.T) {
	h, _, _ := newTestHandler(t)

	err := h.HandleUsageAdjust(context.Background(), asynq.NewTask(TypeUsageAdjust, []byte("invalid json")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal payload")
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleResetQueries_UsesCronPeriod(t *testing.T) {
	h, db, org := newTestHandler(t)
	h.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, db.Model(&models.Organization{}).Where("id = ?", org.ID).
		Update("current_query_count", 500).Error)

	task, err := NewResetQueriesTask(ResetQueriesPayload{})
	require.NoError(t, err)
	require.NoError(t, h.HandleResetQueries(context.Background(), task))

	var got models.Organization
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Zero(t, got.CurrentQueryCount)
	require.NotNil(t, got.QueryPeriodStart)
	assert.True(t, got.QueryPeriodStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	// Queries made after the reset survive a redelivery of the same task.
	require.NoError(t, db.Model(&models.Organization{}).Where("id = ?", org.ID).
		Update("current_query_count", 7).Error)
	require.NoError(t, h.HandleResetQueries(context.Background(), task))

	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Equal(t, 7, got.CurrentQueryCount)
}

func TestHandleResetQueries_ExplicitPeriod(t *testing.T) {
	h, db, org := newTestHandler(t)

	require.NoError(t, db.Model(&models.Organization{}).Where("id = ?", org.ID).
		Update("current_query_count", 12).Error)

	task, err := NewResetQueriesTask(ResetQueriesPayload{PeriodStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.NoError(t, h.HandleResetQueries(context.Background(), task))

	var got models.Organization
	require.NoError(t, db.First(&got, "id = ?", org.ID).Error)
	assert.Zero(t, got.CurrentQueryCount)
}

func TestHandleResetQueries_EmptyPayload(t *testing.T) {
	h, _, _ := newTestHandler(t)

	err := h.HandleResetQueries(context.Background(), asynq.NewTask(TypeUsageResetQueries, nil))
	assert.NoError(t, err)
}

func TestRegisterHandlers(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := asynq.NewServeMux()
	h.RegisterHandlers(mux)

	for _, typ := range []string{TypeUsageAdjust, TypeUsageResetQueries} {
		handler, pattern := mux.Handler(asynq.NewTask(typ, nil))
		assert.NotNil(t, handler)
		assert.Equal(t, typ, pattern)
	}
}

package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/insightforge/pkg/queue"
)

// Task type names
const (
	TypeUsageAdjust       = "usage:adjust"
	TypeUsageResetQueries = "usage:reset_queries"
)

// UsageAdjustPayload is a relative change to one organization's usage.
// AdjustmentID identifies the change across redeliveries.
type UsageAdjustPayload struct {
	AdjustmentID   uuid.UUID `json:"adjustment_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Datasets       int       `json:"datasets"`
	StorageMB      int       `json:"storage_mb"`
	Queries        int       `json:"queries"`
	RequestedBy    uuid.UUID `json:"requested_by"`
}

func NewUsageAdjustTask(payload UsageAdjustPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(queue.QueueCritical), asynq.MaxRetry(3)}
	if payload.AdjustmentID != uuid.Nil {
		opts = append(opts, asynq.TaskID(payload.AdjustmentID.String()))
	}
	return asynq.NewTask(TypeUsageAdjust, data, opts...), nil
}

// ResetQueriesPayload names the period being reset. A zero PeriodStart means
// the period containing the time the task runs.
type ResetQueriesPayload struct {
	PeriodStart time.Time `json:"period_start,omitempty"`
}

func NewResetQueriesTask(payload ResetQueriesPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeUsageResetQueries, data, asynq.Queue(queue.QueueLow)), nil
}

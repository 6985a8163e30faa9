package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/metrics"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/hugh/insightforge/pkg/util"
)

// Billing periods are at most a month, so a reset never looks further back.
const periodLookback = 32 * 24 * time.Hour

type Handler struct {
	usage     *tenancy.Service
	logger    *slog.Logger
	resetCron string
	now       func() time.Time
}

func NewHandler(usage *tenancy.Service, logger *slog.Logger, resetCron string) *Handler {
	return &Handler{
		usage:     usage,
		logger:    logger,
		resetCron: resetCron,
		now:       time.Now,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeUsageAdjust, h.HandleUsageAdjust)
	mux.HandleFunc(TypeUsageResetQueries, h.HandleResetQueries)
}

func (h *Handler) HandleUsageAdjust(ctx context.Context, t *asynq.Task) error {
	var payload UsageAdjustPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		metrics.UsageTasksTotal.WithLabelValues(TypeUsageAdjust, metrics.ResultFailure).Inc()
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	delta := tenancy.UsageDelta{
		Datasets:  payload.Datasets,
		StorageMB: payload.StorageMB,
		Queries:   payload.Queries,
	}

	key := payload.AdjustmentID.String()
	if payload.AdjustmentID == uuid.Nil {
		id, ok := asynq.GetTaskID(ctx)
		if !ok {
			metrics.UsageTasksTotal.WithLabelValues(TypeUsageAdjust, metrics.ResultFailure).Inc()
			return fmt.Errorf("usage adjustment has no id: %w", asynq.SkipRetry)
		}
		key = TypeUsageAdjust + ":" + id
	}

	org, applied, err := h.usage.ApplyUsageOnce(ctx, payload.OrganizationID, delta, key)
	if err != nil {
		metrics.UsageTasksTotal.WithLabelValues(TypeUsageAdjust, metrics.ResultFailure).Inc()
		// Rejected adjustments will be rejected again.
		switch apperr.KindOf(err) {
		case apperr.KindUsageLimitExceeded, apperr.KindNotFound, apperr.KindValidation:
			h.logger.Warn("usage adjustment rejected",
				"org_id", payload.OrganizationID,
				"requested_by", payload.RequestedBy,
				"error", err,
			)
			return fmt.Errorf("adjust usage: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("adjust usage: %w", err)
	}

	metrics.UsageTasksTotal.WithLabelValues(TypeUsageAdjust, metrics.ResultSuccess).Inc()
	if !applied {
		h.logger.Info("usage adjustment already applied", "org_id", org.ID, "adjustment_key", key)
		return nil
	}
	h.logger.Info("usage adjusted",
		"org_id", org.ID,
		"datasets", org.CurrentDatasetCount,
		"storage_mb", org.CurrentStorageMB,
		"queries", org.CurrentQueryCount,
	)
	return nil
}

func (h *Handler) HandleResetQueries(ctx context.Context, t *asynq.Task) error {
	var payload ResetQueriesPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			metrics.UsageTasksTotal.WithLabelValues(TypeUsageResetQueries, metrics.ResultFailure).Inc()
			return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	periodStart := payload.PeriodStart
	if periodStart.IsZero() {
		var err error
		periodStart, err = util.CurrentPeriodStart(h.resetCron, h.now(), periodLookback)
		if err != nil {
			metrics.UsageTasksTotal.WithLabelValues(TypeUsageResetQueries, metrics.ResultFailure).Inc()
			return fmt.Errorf("resolve period: %v: %w", err, asynq.SkipRetry)
		}
	}

	n, err := h.usage.ResetQueryCounts(ctx, periodStart)
	if err != nil {
		metrics.UsageTasksTotal.WithLabelValues(TypeUsageResetQueries, metrics.ResultFailure).Inc()
		return fmt.Errorf("reset query counts: %w", err)
	}

	// Redeliveries arrive within minutes; records from past periods are dead.
	pruned, err := h.usage.PruneUsageAdjustments(ctx, periodStart.Add(-periodLookback))
	if err != nil {
		h.logger.Warn("pruning usage adjustments failed", "error", err)
	}

	metrics.UsageTasksTotal.WithLabelValues(TypeUsageResetQueries, metrics.ResultSuccess).Inc()
	h.logger.Info("query counters reset", "period_start", periodStart, "organizations", n, "adjustments_pruned", pruned)
	return nil
}

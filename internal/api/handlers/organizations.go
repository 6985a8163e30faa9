package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/api/middleware"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/tasks"
	"github.com/hugh/insightforge/internal/tenancy"
)

// TaskEnqueuer is the part of the asynq client the API uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type OrganizationHandler struct {
	tenancy *tenancy.Service
	queue   TaskEnqueuer // nil applies usage changes inline
	logger  *slog.Logger
}

func NewOrganizationHandler(tenancy *tenancy.Service, queue TaskEnqueuer, logger *slog.Logger) *OrganizationHandler {
	return &OrganizationHandler{tenancy: tenancy, queue: queue, logger: logger}
}

func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.tenancy.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	out := make([]dto.OrganizationDTO, 0, len(orgs))
	for _, uo := range orgs {
		out = append(out, dto.NewOrganizationDTO(uo.Organization, string(uo.Role)))
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		respond.Validation(w, errors)
		return
	}

	org, err := h.tenancy.CreateOrganization(r.Context(), middleware.GetUserID(r.Context()), tenancy.CreateOrganizationInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusCreated, dto.NewOrganizationDTO(org, string(authz.RoleOwner)))
}

func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	org := middleware.GetOrganization(r.Context())
	membership := middleware.GetMembership(r.Context())

	respond.JSON(w, http.StatusOK, dto.NewOrganizationDTO(org, string(membership.Role)))
}

func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org := middleware.GetOrganization(r.Context())
	updated, err := h.tenancy.UpdateOrganization(r.Context(), org.ID, tenancy.UpdateOrganizationInput{
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings,
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	membership := middleware.GetMembership(r.Context())
	respond.JSON(w, http.StatusOK, dto.NewOrganizationDTO(updated, string(membership.Role)))
}

func (h *OrganizationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	org := middleware.GetOrganization(r.Context())
	if err := h.tenancy.DeleteOrganization(r.Context(), org.ID); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	h.logger.Info("organization deleted", "org_id", org.ID, "deleted_by", middleware.GetUserID(r.Context()))
	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Organization deleted"})
}

// Usage records a change in the organization's usage. With a queue the change
// is applied by the worker and the response is 202.
func (h *OrganizationHandler) Usage(w http.ResponseWriter, r *http.Request) {
	var req dto.UsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	delta := tenancy.UsageDelta{Datasets: req.Datasets, StorageMB: req.StorageMB, Queries: req.Queries}
	if delta.IsZero() {
		respond.Validation(w, map[string]string{"usage": "At least one of datasets, storage_mb or queries must be non-zero"})
		return
	}

	org := middleware.GetOrganization(r.Context())

	if h.queue != nil {
		task, err := tasks.NewUsageAdjustTask(tasks.UsageAdjustPayload{
			AdjustmentID:   uuid.New(),
			OrganizationID: org.ID,
			Datasets:       delta.Datasets,
			StorageMB:      delta.StorageMB,
			Queries:        delta.Queries,
			RequestedBy:    middleware.GetUserID(r.Context()),
		})
		if err != nil {
			respond.Error(w, r, h.logger, err)
			return
		}

		info, err := h.queue.EnqueueContext(r.Context(), task)
		if err != nil {
			respond.Error(w, r, h.logger, err)
			return
		}

		respond.JSON(w, http.StatusAccepted, dto.UsageResponse{Queued: true, TaskID: info.ID})
		return
	}

	updated, err := h.tenancy.AdjustUsage(r.Context(), org.ID, delta)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	membership := middleware.GetMembership(r.Context())
	orgDTO := dto.NewOrganizationDTO(updated, string(membership.Role))
	respond.JSON(w, http.StatusOK, dto.UsageResponse{Organization: &orgDTO})
}

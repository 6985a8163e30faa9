package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/api/middleware"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/api/validation"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/tenancy"
)

type MemberHandler struct {
	tenancy *tenancy.Service
	logger  *slog.Logger
}

func NewMemberHandler(tenancy *tenancy.Service, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{tenancy: tenancy, logger: logger}
}

// List returns the organization's members. ?include_inactive=true adds
// removed members.
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	org := middleware.GetOrganization(r.Context())
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	members, err := h.tenancy.ListMembers(r.Context(), org.ID, includeInactive)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	out := make([]dto.MemberDTO, 0, len(members))
	for i := range members {
		out = append(out, dto.NewMemberDTO(&members[i]))
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *MemberHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req dto.AddMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		respond.Validation(w, errors)
		return
	}

	role, err := tenancy.ParseRoleInput(req.Role)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	org := middleware.GetOrganization(r.Context())
	m, err := h.tenancy.AddMember(r.Context(), middleware.GetMembership(r.Context()), org.ID, tenancy.AddMemberInput{
		Email: req.Email,
		Role:  role,
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusCreated, dto.NewMemberDTO(m))
}

func (h *MemberHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	targetID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	var req dto.UpdateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role, err := tenancy.ParseRoleInput(req.Role)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	m, err := h.tenancy.ChangeRole(r.Context(), middleware.GetMembership(r.Context()), targetID, role)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, dto.NewMemberDTO(m))
}

// Remove deactivates a membership. Any member may remove themselves; removing
// someone else requires manage_members.
func (h *MemberHandler) Remove(w http.ResponseWriter, r *http.Request) {
	targetID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	actor := middleware.GetMembership(r.Context())
	if targetID != actor.UserID {
		if err := authz.Authorize(actor.Grant(), authz.ActionManageMembers); err != nil {
			respond.Error(w, r, h.logger, err)
			return
		}
	}

	if err := h.tenancy.RemoveMember(r.Context(), actor, targetID); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Member removed"})
}

func memberIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "userID")
	if !validation.IsValidUUID(raw) {
		respond.Message(w, http.StatusUnprocessableEntity, apperr.KindValidation, "Invalid user ID")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respond.Message(w, http.StatusUnprocessableEntity, apperr.KindValidation, "Invalid user ID")
		return uuid.Nil, false
	}
	return id, true
}

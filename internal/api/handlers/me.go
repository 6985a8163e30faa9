package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/api/middleware"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/auth"
)

type MeHandler struct {
	authService auth.Authenticator
	logger      *slog.Logger
}

func NewMeHandler(authService auth.Authenticator, logger *slog.Logger) *MeHandler {
	return &MeHandler{authService: authService, logger: logger}
}

func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.GetUserByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, dto.NewUserDTO(user))
}

func (h *MeHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		respond.Validation(w, errors)
		return
	}

	err := h.authService.ChangePassword(r.Context(), middleware.GetUserID(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Password updated"})
}

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/api/middleware"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/api/validation"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/auth"
)

const (
	maxBodyBytes      = 1 << 20
	refreshCookiePath = "/api/v1/auth"
)

type AuthHandler struct {
	authService   auth.Authenticator
	refreshTTL    time.Duration
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(authService auth.Authenticator, refreshTTL time.Duration, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		refreshTTL:    refreshTTL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		respond.Validation(w, errors)
		return
	}

	resp, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: validation.SanitizeString(req.FullName),
		OrgName:  validation.SanitizeString(req.OrgName),
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	setAuthCookies(w, resp.Tokens, h.refreshTTL, h.secureCookies)
	respond.JSON(w, http.StatusCreated, dto.NewAuthResponse(resp))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		respond.Validation(w, errors)
		return
	}

	resp, err := h.authService.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	setAuthCookies(w, resp.Tokens, h.refreshTTL, h.secureCookies)
	respond.JSON(w, http.StatusOK, dto.NewAuthResponse(resp))
}

// Refresh exchanges a refresh token, taken from the body or the refresh
// cookie, for a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	token := req.RefreshToken
	if token == "" {
		if cookie, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		respond.Message(w, http.StatusUnauthorized, apperr.KindTokenInvalid, "Refresh token required")
		return
	}

	resp, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	setAuthCookies(w, resp.Tokens, h.refreshTTL, h.secureCookies)
	respond.JSON(w, http.StatusOK, dto.NewAuthResponse(resp))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookies(w, h.secureCookies)
	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Logged out"})
}

func setAuthCookies(w http.ResponseWriter, tokens auth.TokenPair, refreshTTL time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    tokens.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   tokens.ExpiresIn,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.RefreshTokenCookie,
		Value:    tokens.RefreshToken,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(refreshTTL.Seconds()),
	})
}

func clearAuthCookies(w http.ResponseWriter, secure bool) {
	for name, path := range map[string]string{
		middleware.AccessTokenCookie:  "/",
		middleware.RefreshTokenCookie: refreshCookiePath,
		middleware.CSRFCookieName:     "/",
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			HttpOnly: name != middleware.CSRFCookieName,
			Secure:   secure,
			MaxAge:   -1,
		})
	}
}

// decodeJSON reads a JSON body into v and writes a 400 when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/pkg/crypto"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStatePath   = "/api/v1/auth/oauth"
	oauthStateTTL    = 10 * time.Minute
)

type OAuthHandler struct {
	provider      auth.OAuthProvider
	refreshTTL    time.Duration
	secureCookies bool
	logger        *slog.Logger
}

func NewOAuthHandler(provider auth.OAuthProvider, refreshTTL time.Duration, secureCookies bool, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		provider:      provider,
		refreshTTL:    refreshTTL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// Login starts the provider flow, binding it to this browser with a state
// cookie.
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := crypto.RandomToken(32)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     oauthStatePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateTTL.Seconds()),
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("oauth provider returned error", "error", providerErr)
		respond.Error(w, r, h.logger, auth.ErrOAuthFailed)
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	state := query.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		respond.Message(w, http.StatusUnauthorized, apperr.KindInvalidCredentials, "Invalid OAuth state")
		return
	}

	// The state is single use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     oauthStatePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		MaxAge:   -1,
	})

	code := query.Get("code")
	if code == "" {
		respond.BadRequest(w, "Missing authorization code")
		return
	}

	resp, err := h.provider.Complete(r.Context(), code)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	setAuthCookies(w, resp.Tokens, h.refreshTTL, h.secureCookies)
	respond.JSON(w, http.StatusOK, dto.NewAuthResponse(resp))
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/internal/metrics"
)

type contextKey string

const (
	UserIDKey       contextKey = "user_id"
	OrganizationKey contextKey = "organization"
	MembershipKey   contextKey = "membership"
)

// AccessTokenCookie and RefreshTokenCookie hold the tokens for browser clients.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Auth requires a valid access token. An expired token and an invalid one
// both yield 401, distinguished by the error type so clients know whether to
// refresh or to log in again.
func Auth(tokens auth.TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				respond.Message(w, http.StatusUnauthorized, apperr.KindTokenInvalid, "Authentication required")
				return
			}

			claims, err := tokens.ValidateAccess(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					metrics.TokenValidationsTotal.WithLabelValues(metrics.ResultExpired).Inc()
				} else {
					metrics.TokenValidationsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
				}
				writeTokenError(w, err)
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				metrics.TokenValidationsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
				writeTokenError(w, auth.ErrTokenInvalid)
				return
			}
			metrics.TokenValidationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeTokenError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	msg := auth.ErrTokenInvalid.Message
	if kind == apperr.KindTokenExpired {
		msg = auth.ErrTokenExpired.Message
	} else {
		kind = apperr.KindTokenInvalid
	}
	respond.Message(w, http.StatusUnauthorized, kind, msg)
}

// tokenFromRequest reads the access token from, in order, the Authorization
// header, the access token cookie and the X-Auth-Token header.
func tokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return r.Header.Get("X-Auth-Token")
}

// GetUserID returns the authenticated user, or uuid.Nil outside Auth.
func GetUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

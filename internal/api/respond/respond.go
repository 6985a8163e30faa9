// Package respond writes JSON responses and translates application errors
// into stable, client-safe HTTP errors.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/apperr"
)

const genericErrorMessage = "An unexpected error occurred"

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidCredentials, apperr.KindTokenExpired, apperr.KindTokenInvalid:
		return http.StatusUnauthorized
	case apperr.KindAuthorizationDenied, apperr.KindInactiveAccount, apperr.KindUsageLimitExceeded:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyExists:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a JSON error. Corrupt credentials and unclassified
// errors are logged with their cause and reach the client only as a generic
// 500; every other kind carries its own client-safe message.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", string(kind),
			"error", err,
		)
		JSON(w, status, dto.ErrorResponse{Error: genericErrorMessage, Type: string(apperr.KindInternal)})
		return
	}

	// Any kind other than internal comes from an *apperr.Error.
	var appErr *apperr.Error
	errors.As(err, &appErr)
	JSON(w, status, dto.ErrorResponse{
		Error:   appErr.Message,
		Type:    string(kind),
		Details: appErr.Details,
	})
}

// Message writes an error with an explicit status, type and message.
func Message(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	JSON(w, status, dto.ErrorResponse{Error: message, Type: string(kind)})
}

// Validation writes a 422 carrying per-field messages.
func Validation(w http.ResponseWriter, fields map[string]string) {
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	JSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{
		Error:   "Validation failed",
		Type:    string(apperr.KindValidation),
		Details: details,
	})
}

// BadRequest writes a 400 for bodies that could not be decoded.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: message, Type: string(apperr.KindValidation)})
}

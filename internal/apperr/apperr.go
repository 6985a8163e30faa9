// Package apperr defines the error kinds shared by the service layer and the
// HTTP layer. Services return *Error values; handlers translate the Kind into
// a status code and a client-safe message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindTokenExpired        Kind = "token_expired"
	KindTokenInvalid        Kind = "token_invalid"
	KindAuthorizationDenied Kind = "authorization_denied"
	KindCorruptCredential   Kind = "corrupt_credential"
	KindInactiveAccount     Kind = "inactive_account"
	KindNotFound            Kind = "not_found"
	KindAlreadyExists       Kind = "already_exists"
	KindValidation          Kind = "validation_error"
	KindUsageLimitExceeded  Kind = "usage_limit_exceeded"
	KindRateLimited         Kind = "rate_limited"
	KindInternal            Kind = "internal"
)

// Error is a categorized application error. Message is safe to show to
// clients; Err carries the underlying cause and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so sentinel values
// declared with New match any error of that kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func NotFound(resource, identifier string) *Error {
	msg := resource + " not found"
	if identifier != "" {
		msg = fmt.Sprintf("%s with id '%s' not found", resource, identifier)
	}
	return &Error{Kind: KindNotFound, Message: msg, Details: map[string]any{"resource": resource}}
}

func AlreadyExists(resource, field, value string) *Error {
	return &Error{
		Kind:    KindAlreadyExists,
		Message: fmt.Sprintf("%s with %s '%s' already exists", resource, field, value),
		Details: map[string]any{"resource": resource, "field": field},
	}
}

func Validation(message, field string) *Error {
	e := &Error{Kind: KindValidation, Message: message}
	if field != "" {
		e.Details = map[string]any{"field": field}
	}
	return e
}

func UsageLimitExceeded(limitType string, current, maximum int) *Error {
	return &Error{
		Kind:    KindUsageLimitExceeded,
		Message: "Usage limit exceeded for " + limitType,
		Details: map[string]any{
			"limit_type": limitType,
			"current":    current,
			"maximum":    maximum,
		},
	}
}

func Denied(message string) *Error {
	if message == "" {
		message = "You don't have permission to perform this action"
	}
	return &Error{Kind: KindAuthorizationDenied, Message: message}
}

// Package apperrors defines the error taxonomy shared by the lifecycle managers
// and the HTTP layer. Each Kind maps to exactly one HTTP status.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimit      Kind = "rate_limit"
	KindDependency     Kind = "dependency"
)

// Error is an application error carrying a caller-facing message.
// Message is always safe to show; Err is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	// Detail becomes the "message" field of the JSON body
	Detail string
	// Fields are merged into the JSON body (e.g. invitableRoles)
	Fields map[string]interface{}
	Err    error
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

// Is matches another *Error of the same kind and message, so sentinels built
// with the constructors below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// WithDetail returns a copy of the error with a detail message
func (e *Error) WithDetail(detail string) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithField returns a copy of the error with an extra body field
func (e *Error) WithField(key string, value interface{}) *Error {
	cp := *e
	cp.Fields = make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// Status returns the HTTP status code for the error kind
func (e *Error) Status() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a Kind to its HTTP status code.
// Conflicts answer 400 to match the established client contract.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation builds a malformed-input error
func Validation(message string) *Error { return newError(KindValidation, message) }

// Authentication builds a missing-session error
func Authentication(message string) *Error { return newError(KindAuthentication, message) }

// Authorization builds an insufficient-rights error
func Authorization(message string) *Error { return newError(KindAuthorization, message) }

// NotFound builds an unresolved id/token error
func NotFound(message string) *Error { return newError(KindNotFound, message) }

// Conflict builds a duplicate-record error
func Conflict(message string) *Error { return newError(KindConflict, message) }

// RateLimit builds a too-soon error
func RateLimit(message string) *Error { return newError(KindRateLimit, message) }

// Dependency wraps a store or notification failure
func Dependency(message string, err error) *Error {
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

// As extracts an *Error from err
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindDependency for foreign errors
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindDependency
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
	ErrLocked       = errors.New("locked")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation error")
)

// AppError carries an HTTP status and a machine readable code
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(err error, status int, code, message string) *AppError {
	return &AppError{Err: err, Message: message, Code: code, HTTPStatus: status}
}

func NotFound(resource string, id string) *AppError {
	e := newError(ErrNotFound, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
	e.Details = map[string]string{"resource": resource, "id": id}
	return e
}

func Unauthorized(message string) *AppError {
	return newError(ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func Forbidden(message string) *AppError {
	return newError(ErrForbidden, http.StatusForbidden, "FORBIDDEN", message)
}

func BadRequest(message string) *AppError {
	return newError(ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST", message)
}

// Validation reports rejected input. Details maps field names to problems.
func Validation(message string, details map[string]string) *AppError {
	e := newError(ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR", message)
	e.Details = details
	return e
}

func Conflict(message string) *AppError {
	return newError(ErrConflict, http.StatusConflict, "CONFLICT", message)
}

// Locked reports an attempt to change a sealed resource
func Locked(message string) *AppError {
	return newError(ErrLocked, http.StatusConflict, "LOCKED", message)
}

func Internal(err error) *AppError {
	return newError(err, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// FromViolation maps a lifecycle rule violation onto an HTTP error. Kinds
// are the lifecycle engine's violation classes.
func FromViolation(kind, reason string) *AppError {
	switch kind {
	case "authorization":
		return Forbidden(reason)
	case "locked":
		return Locked(reason)
	case "ordering":
		e := Conflict(reason)
		e.Code = "STAGE_ORDER"
		return e
	default:
		return Validation(reason, nil)
	}
}

// Wrap prefixes an AppError's message, or turns any other error into an
// internal one
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

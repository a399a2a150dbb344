package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every AppError wraps exactly one of these so callers can
// branch with errors.Is without inspecting codes.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrDuplicateIdentity  = errors.New("identity already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrMismatch           = errors.New("password confirmation mismatch")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInternal           = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// DuplicateIdentity creates a 409 error for a username or email collision.
func DuplicateIdentity(field, value string) *AppError {
	return &AppError{
		Code:    "DUPLICATE_IDENTITY",
		Message: fmt.Sprintf("user with %s %q already exists", field, value),
		Status:  http.StatusConflict,
		Err:     ErrDuplicateIdentity,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidCredentials creates a 401 error. The message is fixed so that an
// unknown username and a wrong password render identically.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "invalid username or password",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

// AccountLocked creates a 423 error.
func AccountLocked() *AppError {
	return &AppError{
		Code:    "ACCOUNT_LOCKED",
		Message: "account is locked, contact an administrator",
		Status:  http.StatusLocked,
		Err:     ErrAccountLocked,
	}
}

// AccountDisabled creates a 403 error.
func AccountDisabled() *AppError {
	return &AppError{
		Code:    "ACCOUNT_DISABLED",
		Message: "account is disabled",
		Status:  http.StatusForbidden,
		Err:     ErrAccountDisabled,
	}
}

// Mismatch creates a 400 error for a new/confirm password mismatch.
func Mismatch() *AppError {
	return &AppError{
		Code:    "PASSWORD_MISMATCH",
		Message: "new password and confirmation do not match",
		Status:  http.StatusBadRequest,
		Err:     ErrMismatch,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// TokenExpired creates a 401 error that still matches ErrUnauthorized.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "token has expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenExpired,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Conflict creates a 409 error for a lost optimistic-concurrency race.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// StoreUnavailable creates a 503 error wrapping a collaborator failure.
func StoreUnavailable(op string, cause error) *AppError {
	return &AppError{
		Code:    "STORE_UNAVAILABLE",
		Message: "credential store unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, cause),
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateIdentity), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError unwraps err into an AppError when possible.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// Unauthorized covers missing or invalid credentials and signatures.
func Unauthorized(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusUnauthorized, err)
}

// NotFound covers absent passes, orders and events.
func NotFound(code, message string) *AppError {
	return NewAppError(code, message, http.StatusNotFound, nil)
}

// Conflict covers business-rule rejections: stock, amount and upgrade direction.
func Conflict(code, message string) *AppError {
	return NewAppError(code, message, http.StatusConflict, nil)
}

// BadRequest covers malformed input.
func BadRequest(code, message string, details any) *AppError {
	appErr := NewAppError(code, message, http.StatusBadRequest, nil)
	appErr.Details = details
	return appErr
}

// GatewayError covers payment provider failures. status is the provider's own status when known.
func GatewayError(code, message string, status int, err error) *AppError {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return NewAppError(code, message, status, err)
}

// Internal wraps unexpected failures; the message stays generic on the wire.
func Internal(err error) *AppError {
	return NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
}

package domain

import (
	"fmt"
	"net/http"
)

// ErrorCode represents categorized error types.
// These codes are stable and can be used for programmatic error handling.
type ErrorCode string

const (
	ErrCodeConfigMissing        ErrorCode = "config_missing"
	ErrCodeMalformedResponse    ErrorCode = "malformed_response"
	ErrCodeSignatureInvalid     ErrorCode = "signature_invalid"
	ErrCodeDestinationMismatch  ErrorCode = "destination_mismatch"
	ErrCodeReplayOrUnsolicited  ErrorCode = "replay_or_unsolicited"
	ErrCodeAssertionExpired     ErrorCode = "assertion_expired"
	ErrCodeAssertionNotYetValid ErrorCode = "assertion_not_yet_valid"
	ErrCodeAudienceMismatch     ErrorCode = "audience_mismatch"
	ErrCodeMissingNameID        ErrorCode = "missing_name_id"
	ErrCodeStatusNotSuccess     ErrorCode = "status_not_success"
	ErrCodeSessionInvalid       ErrorCode = "session_invalid"
	ErrCodeTokenGeneration      ErrorCode = "token_generation"
	ErrCodeServiceError         ErrorCode = "service_error"
	ErrCodeBadRequest           ErrorCode = "bad_request"
)

// String returns the error code as a string.
func (c ErrorCode) String() string {
	return string(c)
}

// IsValidationFailure reports whether the code is one of the terminal
// per-response rejection points of the assertion validation pipeline.
func (c ErrorCode) IsValidationFailure() bool {
	switch c {
	case ErrCodeMalformedResponse, ErrCodeSignatureInvalid,
		ErrCodeDestinationMismatch, ErrCodeReplayOrUnsolicited,
		ErrCodeAssertionExpired, ErrCodeAssertionNotYetValid,
		ErrCodeAudienceMismatch, ErrCodeMissingNameID,
		ErrCodeStatusNotSuccess:
		return true
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error code.
// All validation failures map to 401 so the HTTP layer never reveals
// which rejection point fired.
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == ErrCodeBadRequest:
		return http.StatusBadRequest
	case c == ErrCodeSessionInvalid:
		return http.StatusUnauthorized
	case c.IsValidationFailure():
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a structured error with code, message, and optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ConfigError creates a configuration error. These are startup-fatal.
func ConfigError(message string) *AppError {
	return &AppError{Code: ErrCodeConfigMissing, Message: message}
}

// ValidationError creates a terminal response-validation error.
func ValidationError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// BadRequestError creates a bad request error.
func BadRequestError(message string) *AppError {
	return &AppError{Code: ErrCodeBadRequest, Message: message}
}

// ServiceError creates an internal service error.
func ServiceError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeServiceError, Message: message, Cause: cause}
}

package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All services and handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400) — rejected synchronously at enqueue, never enter the store.
	ErrCodeValidationInvalidEmail    ErrorCode = "validation_invalid_email"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPriority ErrorCode = "validation_invalid_priority"
	ErrCodeValidationInvalidTemplate ErrorCode = "validation_invalid_template_kind"
	ErrCodeValidationRenderFailed    ErrorCode = "validation_template_render_failed"

	// Not Found (404)
	ErrCodeNotFoundQueueItem   ErrorCode = "not_found_queue_item"
	ErrCodeNotFoundSuppression ErrorCode = "not_found_suppression_entry"
	ErrCodeNotFoundPolicy      ErrorCode = "not_found_retry_policy"

	// Conflict (409)
	ErrCodeConflictNotCancellable ErrorCode = "conflict_not_cancellable"
	ErrCodeConflictTerminalStatus ErrorCode = "conflict_terminal_status"

	// Suppressed recipient (403)
	ErrCodeRecipientSuppressed ErrorCode = "recipient_suppressed"

	// Unauthorized (401) — admin surface only.
	ErrCodeUnauthorized ErrorCode = "unauthorized"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeEmailBlocked          ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the admin API to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeRecipientSuppressed), s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case s == string(ErrCodeUnauthorized):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the queue.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// TransportError carries the provider-level detail of a failed send: the
// HTTP-like status, an optional provider error code, and the raw message.
// The failure classifier consumes these fields; everything else in the
// system only sees the classified FailureKind.
type TransportError struct {
	StatusCode   int
	ProviderCode string
	Message      string
	Err          error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("transport error (status %d, code %s): %s", e.StatusCode, e.ProviderCode, e.Message)
	}
	return fmt.Sprintf("transport error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Result converts the error into the normalized TransportResult consumed by
// the failure classifier.
func (e *TransportError) Result() TransportResult {
	return TransportResult{
		StatusCode:   e.StatusCode,
		ProviderCode: e.ProviderCode,
		Message:      e.Message,
	}
}

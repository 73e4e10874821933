// Package errors provides standardized API error types.
package errors

import (
	"fmt"
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is matches API errors by code, so WithMessage and WithDetails copies still
// compare equal to their sentinel under errors.Is.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// Standard error definitions
var (
	// ErrUnauthenticated is returned when a session is missing or expired.
	ErrUnauthenticated = &APIError{
		Code:       "unauthenticated",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrInvalidCredentials is the single error surfaced on every login
	// failure path. Detailed reasons are reserved for server logs.
	ErrInvalidCredentials = &APIError{
		Code:       "invalid_credentials",
		Message:    "Invalid email or password",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrCSRFInvalid is returned when the CSRF header does not match the cookie.
	ErrCSRFInvalid = &APIError{
		Code:       "csrf_invalid",
		Message:    "CSRF token missing or invalid",
		StatusCode: http.StatusForbidden,
	}

	// ErrUnauthorized is returned when a role or ownership check fails.
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "You don't have permission to perform this action",
		StatusCode: http.StatusForbidden,
	}

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrEmailTaken is returned when the canonical email already has a user.
	ErrEmailTaken = &APIError{
		Code:       "email_taken",
		Message:    "An account with this email already exists",
		StatusCode: http.StatusConflict,
	}

	// ErrInviteInvalid is the generic failure for any unusable invite code.
	ErrInviteInvalid = &APIError{
		Code:       "invite_invalid",
		Message:    "Invalid invite code",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInviteRaceLost is returned to the registration that lost the atomic
	// consumption race on an invite's last remaining use.
	ErrInviteRaceLost = &APIError{
		Code:       "invite_race_lost",
		Message:    "This invite was just used up, please request a new one",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidTransition is returned for an approval action that is not
	// legal from the request's current status.
	ErrInvalidTransition = &APIError{
		Code:       "invalid_transition",
		Message:    "The request is not in a state that allows this action",
		StatusCode: http.StatusConflict,
	}

	// ErrHoldNotActive is returned when a hold operation requires an active hold.
	ErrHoldNotActive = &APIError{
		Code:       "hold_not_active",
		Message:    "Credit hold is no longer active",
		StatusCode: http.StatusConflict,
	}

	// ErrAmountExceedsHold is returned when a conversion exceeds the reserved amount.
	ErrAmountExceedsHold = &APIError{
		Code:       "amount_exceeds_hold",
		Message:    "Actual amount exceeds the reserved hold",
		StatusCode: http.StatusUnprocessableEntity,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrStoreUnavailable is a transient storage failure; callers may retry.
	ErrStoreUnavailable = &APIError{
		Code:       "store_unavailable",
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrStoreTimeout is returned when a store call exceeds its deadline.
	ErrStoreTimeout = &APIError{
		Code:       "store_timeout",
		Message:    "Storage operation timed out",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewInsufficientFunds creates the economic failure for a debit or hold that
// exceeds the available balance, carrying the balance observed under lock.
func NewInsufficientFunds(available int64) *APIError {
	return &APIError{
		Code:       "insufficient_funds",
		Message:    "Not enough available credits",
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]int64{
			"available": available,
		},
	}
}

// NewRateLimited creates a rate-limit error carrying the retry hint.
func NewRateLimited(retryAfterSeconds int) *APIError {
	return &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
		Details: map[string]int{
			"retry_after_seconds": retryAfterSeconds,
		},
	}
}

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewValidationErrors creates a validation error spanning multiple fields.
func NewValidationErrors(fields map[string]string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    fields,
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewInvariantViolation marks a fatal consistency failure (negative balance,
// hold without request). The operation must abort; this is surfaced to
// operators, never silently continued.
func NewInvariantViolation(message string) *APIError {
	return &APIError{
		Code:       "invariant_violation",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// IsTransient reports whether the error may succeed on retry. Ledger
// idempotency keys make such retries safe.
func IsTransient(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return apiErr.Code == ErrStoreUnavailable.Code || apiErr.Code == ErrStoreTimeout.Code
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrInternal
}

package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Form-engine error codes.
const (
	ErrFetchError      = "FETCH_ERROR"
	ErrDuplicateRow    = "DUPLICATE_ROW"
	ErrRowIncomplete   = "ROW_INCOMPLETE"
	ErrSubmissionError = "SUBMISSION_ERROR"
	ErrSessionNotFound = "SESSION_NOT_FOUND"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewFetchError returns a FETCH_ERROR for a failed catalog child-list fetch.
// The error is recoverable; the affected hierarchy level keeps its error
// message and may be retried by re-selecting the same parent.
func NewFetchError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrFetchError, Message: msg}
}

// FetchErrorFrom coerces a catalog fetch failure into an ErrorEnvelope.
// Errors that already carry a stable code (breaker open, backend timeout)
// pass through unchanged.
func FetchErrorFrom(err error) error {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return NewFetchError(err.Error())
}

// NewDuplicateRowError returns a DUPLICATE_ROW error naming the field whose
// change would have produced a duplicate combination.
func NewDuplicateRowError(field string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDuplicateRow,
		Message: "This combination already exists in another row",
		Details: []FieldError{{
			Field:   field,
			Code:    ErrDuplicateRow,
			Message: "This combination already exists in another row",
		}},
	}
}

// NewRowIncompleteError returns a ROW_INCOMPLETE error. Raised when a new
// row is requested while an existing row still has empty fields.
func NewRowIncompleteError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRowIncomplete,
		Message: "Complete all fields in existing rows before adding a new one",
	}
}

// NewSubmissionError returns a SUBMISSION_ERROR carrying the backend's
// rejection message. Form state is preserved so the user can resubmit.
func NewSubmissionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSubmissionError, Message: msg}
}

// NewSessionNotFoundError returns a SESSION_NOT_FOUND error.
func NewSessionNotFoundError(sessionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionNotFound,
		Message: fmt.Sprintf("form session %q not found or expired", sessionID),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

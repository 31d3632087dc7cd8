package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Status  int               `json:"status"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so cloned values compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithDetail returns a copy carrying an identifying key.
func (e *Error) WithDetail(key, value string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTooManyRequests    = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Score normalizer input defects.
	ErrRangeViolation  = New("RANGE_VIOLATION", http.StatusBadRequest, "obtained marks out of range")
	ErrUnknownQuestion = New("UNKNOWN_QUESTION", http.StatusBadRequest, "question not part of exam")
	ErrDuplicateEntry  = New("DUPLICATE_ENTRY", http.StatusBadRequest, "duplicate question entry")
	ErrMissingEntry    = New("MISSING_ENTRY", http.StatusBadRequest, "required question entry missing")

	// Workflow.
	ErrAuthorization     = New("AUTHORIZATION_ERROR", http.StatusForbidden, "actor not permitted for transition")
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "invalid workflow transition")
	ErrEditWindowClosed  = New("EDIT_WINDOW_CLOSED", http.StatusConflict, "edit window closed, override required")

	// Missing prerequisite data.
	ErrInsufficientData = New("INSUFFICIENT_DATA", http.StatusUnprocessableEntity, "insufficient data")
	ErrIncompleteCOData = New("INCOMPLETE_CO_DATA", http.StatusUnprocessableEntity, "course outcome attainment missing")

	// Configuration defects.
	ErrInvalidWeights  = New("INVALID_WEIGHTS", http.StatusBadRequest, "invalid attempt weights")
	ErrUngradableScore = New("UNGRADABLE_SCORE", http.StatusUnprocessableEntity, "score outside grading table")
	ErrInvalidConfig   = New("INVALID_CONFIGURATION", http.StatusInternalServerError, "invalid configuration")
)

// IsValidation reports whether err is a caller input defect.
func IsValidation(err error) bool {
	for _, target := range []*Error{ErrValidation, ErrRangeViolation, ErrUnknownQuestion, ErrDuplicateEntry, ErrMissingEntry} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

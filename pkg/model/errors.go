package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrInternal         ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the results API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.String()
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, strings.Join(parts, "; "))
}

// HTTPStatus maps the error code to the status the results API answers with.
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	switch {
	case f.Path != "":
		return f.Path + ": " + f.Message
	case f.Field != "":
		return f.Field + ": " + f.Message
	default:
		return f.Message
	}
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError wraps err into an INTERNAL_ERROR APIError.
func NewInternalError(err error) *APIError {
	return &APIError{Code: ErrInternal, Message: err.Error()}
}

var (
	// ErrNotConfigured is returned by a provisioner that declines every case.
	ErrNotConfigured = errors.New("provisioner not configured")
	// ErrNoLocation is returned when an in-place provisioner gets a case without a fixed location.
	ErrNoLocation = errors.New("case has no fixed location")
	// ErrUnknownFixture is returned when a case references a fixture the catalog does not know.
	ErrUnknownFixture = errors.New("unknown fixture")
	// ErrCellOccupied is returned when a region already holds another fixture.
	ErrCellOccupied = errors.New("region already occupied")
	// ErrTimedOut is recorded on a case that exceeded its tick limit.
	ErrTimedOut = errors.New("case timed out")
	// ErrAborted is recorded on a case that was still running when its run halted or stopped.
	ErrAborted = errors.New("case aborted")
)

// InvalidTransitionError is returned when a status transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// ProvisionError records why an environment could not be prepared for a case.
type ProvisionError struct {
	CaseID      string
	Provisioner string
	Err         error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s (%s): %v", e.CaseID, e.Provisioner, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// MisuseError is the panic value for programmer errors against the scheduler,
// such as starting a scheduler that is already running.
type MisuseError struct {
	Op     string
	Detail string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("scheduler misuse in %s: %s", e.Op, e.Detail)
}

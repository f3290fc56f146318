package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

// Error codes surfaced to API callers.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeMissingCredential   = "MISSING_CREDENTIAL"
	CodeInvalidCredential   = "INVALID_CREDENTIAL"
	CodeInsufficientRole    = "INSUFFICIENT_ROLE"
	CodeNotEnrolledOrUnpaid = "NOT_ENROLLED_OR_UNPAID"
	CodeEnrollmentInactive  = "ENROLLMENT_INACTIVE"
	CodeMissingParameter    = "MISSING_PARAMETER"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewMissingCredential reports a request without a bearer credential.
func NewMissingCredential() error {
	return NewDomainError(CodeMissingCredential, "Unauthorized: no token provided", http.StatusUnauthorized, nil)
}

// NewInvalidCredential reports a credential that failed verification.
func NewInvalidCredential(message string) error {
	return NewDomainError(CodeInvalidCredential, message, http.StatusUnauthorized, nil)
}

func NewInsufficientRole(message string) error {
	return NewDomainError(CodeInsufficientRole, message, http.StatusForbidden, nil)
}

func NewNotEnrolledOrUnpaid(message string) error {
	return NewDomainError(CodeNotEnrolledOrUnpaid, message, http.StatusForbidden, nil)
}

func NewEnrollmentInactive(message string) error {
	return NewDomainError(CodeEnrollmentInactive, message, http.StatusForbidden, nil)
}

func NewMissingParameter(name string) error {
	return NewDomainError(CodeMissingParameter, fmt.Sprintf("%s is required", name), http.StatusBadRequest,
		map[string]any{"parameter": name})
}

func NewRateLimited(message string) error {
	return NewDomainError(CodeRateLimited, message, http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return &DomainError{
			Code:       codeForStatus(fiberErr.Code),
			Message:    fiberErr.Message,
			HTTPStatus: fiberErr.Code,
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

func MapError(err error) error {
	return ToDomainError(err)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidationFailed
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if status >= http.StatusInternalServerError {
		return CodeInternal
	}
	return http.StatusText(status)
}

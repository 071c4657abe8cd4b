package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"artive/api/internal/auth"
	"artive/api/internal/lineage"
)

// Error codes rendered in the "code" field of error responses.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidBody       = "INVALID_BODY"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInvalidCredential = "INVALID_CREDENTIALS"
	CodeEmailExists       = "EMAIL_EXISTS"
	CodeOperationFailed   = "OPERATION_FAILED"
	CodeMediaUnavailable  = "MEDIA_UNAVAILABLE"
	CodeMediaTooLarge     = "MEDIA_TOO_LARGE"
	CodeUnsupportedMedia  = "UNSUPPORTED_MEDIA"
	CodeSearchUnavailable = "SEARCH_UNAVAILABLE"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeServerError       = "SERVER_ERROR"
)

// DomainError is an error that renders as a fixed status and code.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

// unavailable reports an optional backend that is not configured.
func unavailable(code, what string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, what+" not configured", nil)
}

// mapError renders lineage and store errors. Anything unrecognised is a 500
// and gets logged by the caller.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, lineage.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, lineage.ErrUnauthorized):
		return http.StatusForbidden, CodeForbidden, "Forbidden", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, lineage.ErrTransactionFailed):
		return http.StatusServiceUnavailable, CodeOperationFailed, "Operation could not be completed, try again", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}

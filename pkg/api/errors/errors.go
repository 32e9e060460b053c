// Package errors maps domain errors to HTTP responses.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/models"
	"github.com/labstack/echo/v4"
)

// StatusFor returns the HTTP status of err
func StatusFor(err error) int {
	switch domain.GetErrorCode(err) {
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeExpired:
		return http.StatusGone
	case domain.ErrCodeConflict:
		return http.StatusConflict
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a models.ErrorResponse. Domain errors expose their
// message and details; anything else is logged and reported generically.
func Respond(c echo.Context, log logger.Logger, err error) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}
		return InternalError(c)
	}

	return c.JSON(status, models.ErrorResponse{
		Error:   errorName(status),
		Message: Message(err),
		Details: domain.GetDetails(err),
	})
}

// ValidationError reports a malformed request body or parameter
func ValidationError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: message,
	})
}

// UnauthorizedError reports a missing or invalid credential
func UnauthorizedError(c echo.Context, code, message string) error {
	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// ForbiddenError returns a generic forbidden error
func ForbiddenError(c echo.Context) error {
	return c.JSON(http.StatusForbidden, models.ErrorResponse{
		Error:   "forbidden",
		Message: "You do not have permission to access this resource.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

func errorName(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusGone:
		return "expired"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "internal_error"
	}
}

// Message returns the client-facing message of a domain error
func Message(err error) string {
	var de *domain.DomainError
	if stderrors.As(err, &de) {
		return de.Message
	}
	return ""
}

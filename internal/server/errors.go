package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound    = errors.New("not_found")
	ErrRateLimited = errors.New("rate_limited")
)

// ErrorHandlingMiddleware renders the last handler error as the JSON error
// envelope unless the handler already wrote a body.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}

// fieldErrors are caller mistakes reported as 400 against one request field.
var fieldErrors = []struct {
	err   error
	field string
}{
	{domain.ErrInvalidNavigation, "url"},
	{domain.ErrInvalidAdIdentity, "name"},
	{domain.ErrInvalidExperiment, "name"},
	{domain.ErrUnknownField, "fields"},
}

// statusErrors map to a status of their own.
var statusErrors = []struct {
	err     error
	status  int
	kind    string
	message string
}{
	{domain.ErrProtectedField, http.StatusConflict, "protected_field", "first-touch fields cannot be cleared"},
	{ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "too many requests"},
}

var internalPayload = errorPayload{Type: "internal_error", Message: "internal server error"}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalPayload
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}
	for _, f := range fieldErrors {
		if errors.Is(err, f.err) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors:  []ValidationError{{Field: f.field, Code: f.err.Error(), Message: err.Error()}},
			}
		}
	}
	for _, s := range statusErrors {
		if errors.Is(err, s.err) {
			return s.status, errorPayload{Type: s.kind, Message: s.message}
		}
	}
	return http.StatusInternalServerError, internalPayload
}

// classifyErrorForLog returns the envelope type and a code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

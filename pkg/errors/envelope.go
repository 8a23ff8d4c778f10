package errors

import (
	"errors"
	"net/http"
)

// ErrorResponse is the uniform error body returned by every endpoint.
type ErrorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Code    string              `json:"code"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// ToResponse converts an error to an ErrorResponse. Server-side failures are
// reported with a generic message; the cause stays in the logs.
func ToResponse(err error) ErrorResponse {
	status := GetHTTPStatus(err)
	resp := ErrorResponse{
		Success: false,
		Code:    GetErrorCode(err),
		Message: err.Error(),
	}
	if status >= http.StatusInternalServerError {
		resp.Code = "INTERNAL_ERROR"
		resp.Message = "internal server error"
		return resp
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		resp.Message = ve.message()
	}
	var fe FieldErrorer
	if errors.As(err, &fe) {
		resp.Errors = fe.FieldErrors()
	}
	return resp
}

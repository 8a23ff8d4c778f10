package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFoundError("contact", "1"), http.StatusNotFound},
		{"validation", NewValidationError("email", "invalid"), http.StatusBadRequest},
		{"unprocessable", NewUnprocessableError("lead %s already converted", "1"), http.StatusUnprocessableEntity},
		{"permission", NewPermissionError("delete", "contacts"), http.StatusForbidden},
		{"unauthorized", NewUnauthorizedError("expired"), http.StatusUnauthorized},
		{"conflict", NewConflictError("tenant", "slug", "acme"), http.StatusConflict},
		{"rate limit", NewRateLimitError("user", time.Second), http.StatusTooManyRequests},
		{"internal", NewInternalError("boom", nil), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("load: %w", NewNotFoundError("lead", "2")), http.StatusNotFound},
		{"plain", fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatus(tt.err))
		})
	}
}

type teapotError struct{}

func (teapotError) Error() string { return "short and stout" }
func (teapotError) Kind() Kind    { return KindUnprocessable }
func (teapotError) Code() string  { return "TEAPOT" }

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", GetErrorCode(NewNotFoundError("lead", "1")))
	assert.Equal(t, "RATE_LIMITED", GetErrorCode(fmt.Errorf("wrapped: %w", NewRateLimitError("bulk", time.Minute))))
	assert.Equal(t, "INTERNAL_ERROR", GetErrorCode(fmt.Errorf("plain")))
	assert.Equal(t, "TEAPOT", GetErrorCode(teapotError{}))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatus(teapotError{}))
	assert.True(t, IsConflict(&ConflictError{Resource: "tenant", Reason: "taken"}))
	assert.False(t, IsNotFound(NewPermissionError("read", "leads")))
}

func TestValidationErrorCollectsFields(t *testing.T) {
	v := NewFieldErrors("")
	require.NoError(t, v.OrNil())

	v.Add("email", "enter a valid email address")
	v.Add("email", "this field is required")
	v.Add("", "payload must be an object")

	err := v.OrNil()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Len(t, v.Fields["email"], 2)
	assert.Equal(t, []string{"payload must be an object"}, v.Fields[NonFieldErrors])
}

func TestValidationErrorMerge(t *testing.T) {
	item := NewValidationError("name", "this field is required")
	all := NewFieldErrors("bulk validation failed")
	all.Merge("3", item)

	assert.Equal(t, []string{"this field is required"}, all.Fields["3.name"])
}

func TestToResponse(t *testing.T) {
	resp := ToResponse(NewValidationError("stage", "invalid choice"))
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Equal(t, "validation failed", resp.Message)
	assert.Equal(t, []string{"invalid choice"}, resp.Errors["stage"])

	resp = ToResponse(NewInternalError("db down", fmt.Errorf("dial tcp")))
	assert.Equal(t, "internal server error", resp.Message)
	assert.Nil(t, resp.Errors)

	resp = ToResponse(NewNotFoundError("lead", "9"))
	assert.Equal(t, "lead with ID '9' not found", resp.Message)
}

func TestRateLimitRetryAfterRoundsUp(t *testing.T) {
	assert.Equal(t, 2, NewRateLimitError("anon", 1500*time.Millisecond).RetryAfterSeconds())
	assert.Equal(t, 1, NewRateLimitError("anon", 0).RetryAfterSeconds())
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Kind classifies an error for the HTTP layer.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindUnprocessable
	KindPermission
	KindUnauthorized
	KindConflict
	KindRateLimited
)

var kindTable = map[Kind]struct {
	status int
	code   string
}{
	KindInternal:      {http.StatusInternalServerError, "INTERNAL_ERROR"},
	KindNotFound:      {http.StatusNotFound, "NOT_FOUND"},
	KindValidation:    {http.StatusBadRequest, "VALIDATION_ERROR"},
	KindUnprocessable: {http.StatusUnprocessableEntity, "UNPROCESSABLE"},
	KindPermission:    {http.StatusForbidden, "PERMISSION_DENIED"},
	KindUnauthorized:  {http.StatusUnauthorized, "UNAUTHORIZED"},
	KindConflict:      {http.StatusConflict, "CONFLICT"},
	KindRateLimited:   {http.StatusTooManyRequests, "RATE_LIMITED"},
}

// AppError is implemented by every error the API reports on purpose.
type AppError interface {
	error
	Kind() Kind
}

// Coded lets an error override the code derived from its kind.
type Coded interface {
	Code() string
}

// FieldErrorer is implemented by errors that carry per-field messages.
type FieldErrorer interface {
	FieldErrors() map[string][]string
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Kind()
	}
	return KindInternal
}

// GetHTTPStatus maps err to a status; unclassified errors are 500.
func GetHTTPStatus(err error) int {
	return kindTable[KindOf(err)].status
}

// GetErrorCode returns the machine readable code for err.
func GetErrorCode(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return kindTable[KindOf(err)].code
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsPermission(err error) bool   { return KindOf(err) == KindPermission }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }

// NotFoundError is returned when a record, route or tenant does not exist
// or is outside the caller's scope.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Kind() Kind { return KindNotFound }

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

// NonFieldErrors keys messages that concern the request as a whole.
const NonFieldErrors = "non_field_errors"

// ValidationError collects messages per field.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

// NewValidationError reports a single field message.
func NewValidationError(field, message string) *ValidationError {
	e := &ValidationError{}
	e.Add(field, message)
	return e
}

// NewFieldErrors starts an empty ValidationError to collect messages into.
func NewFieldErrors(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string][]string)}
}

func (e *ValidationError) Kind() Kind { return KindValidation }

func (e *ValidationError) FieldErrors() map[string][]string { return e.Fields }

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error: " + e.message()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("validation error: ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Fields[k], "; "))
	}
	return b.String()
}

func (e *ValidationError) message() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// Add appends a message for field; an empty field means the whole request.
func (e *ValidationError) Add(field, message string) {
	if field == "" {
		field = NonFieldErrors
	}
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Merge copies other's messages, keyed "prefix.field" when prefix is set.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	if other == nil {
		return
	}
	for field, msgs := range other.Fields {
		if prefix != "" {
			field = prefix + "." + field
		}
		for _, m := range msgs {
			e.Add(field, m)
		}
	}
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns nil when no messages were collected, so callers can write
// `return v.OrNil()` without a typed-nil interface.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

// UnprocessableError is returned for well-formed requests that cannot be
// applied to the current state of a resource.
type UnprocessableError struct {
	Message string
}

func NewUnprocessableError(format string, args ...any) *UnprocessableError {
	return &UnprocessableError{Message: fmt.Sprintf(format, args...)}
}

func (e *UnprocessableError) Kind() Kind    { return KindUnprocessable }
func (e *UnprocessableError) Error() string { return e.Message }

// PermissionError is returned when the role rules deny an action.
type PermissionError struct {
	Action   string
	Resource string
}

func NewPermissionError(action, resource string) *PermissionError {
	return &PermissionError{Action: action, Resource: resource}
}

func (e *PermissionError) Kind() Kind { return KindPermission }

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: cannot %s %s", e.Action, e.Resource)
}

// UnauthorizedError covers missing, invalid and expired credentials.
type UnauthorizedError struct {
	Reason string
}

func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}

func (e *UnauthorizedError) Kind() Kind { return KindUnauthorized }

func (e *UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// ConflictError reports a uniqueness or referential conflict.
type ConflictError struct {
	Resource string
	Field    string
	Value    string
	Reason   string
}

func NewConflictError(resource, field, value string) *ConflictError {
	return &ConflictError{Resource: resource, Field: field, Value: value}
}

func (e *ConflictError) Kind() Kind { return KindConflict }

func (e *ConflictError) Error() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Field != "" && e.Value != "":
		return fmt.Sprintf("%s already exists with %s='%s'", e.Resource, e.Field, e.Value)
	default:
		return e.Resource + " already exists"
	}
}

// RateLimitError is returned when a throttle rejects a request.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func NewRateLimitError(scope string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Scope: scope, RetryAfter: retryAfter}
}

func (e *RateLimitError) Kind() Kind { return KindRateLimited }

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("request was throttled, retry in %d seconds", e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// InternalError wraps an unexpected failure with a short description.
type InternalError struct {
	Message string
	Cause   error
}

func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{Message: message, Cause: cause}
}

func (e *InternalError) Kind() Kind    { return KindInternal }
func (e *InternalError) Unwrap() error { return e.Cause }

func (e *InternalError) Error() string {
	if e.Cause == nil {
		return "internal error: " + e.Message
	}
	return fmt.Sprintf("internal error: %s: %v", e.Message, e.Cause)
}

// Package errors defines the coded errors shared by the consumers, the
// campaign service and the ops API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

	ErrMalformedPayload   = NewError("MALFORMED_PAYLOAD", "malformed stream payload", http.StatusUnprocessableEntity).AsFatal()
	ErrPreconditionFailed = NewError("PRECONDITION_FAILED", "precondition not met", http.StatusPreconditionFailed).AsRetryable()
	ErrVendorUnavailable  = NewError("VENDOR_UNAVAILABLE", "message vendor unavailable", http.StatusBadGateway).AsRetryable()
)

type class uint8

const (
	classDefault class = iota
	classRetryable
	classFatal
)

// Error carries a stable code, the HTTP status it maps to and free-form
// details. With* methods return copies; the sentinels above are never mutated.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	class   class
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so wrapped copies of a sentinel
// satisfy errors.Is against it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsFatal reports whether the failure cannot go away by itself. Without an
// explicit class, validation and not-found errors are fatal.
func (e *Error) IsFatal() bool {
	switch e.class {
	case classFatal:
		return true
	case classRetryable:
		return false
	}
	var inner *Error
	if e.Cause != nil && errors.As(e.Cause, &inner) {
		return inner.IsFatal()
	}
	return e.Code == ErrValidation.Code || e.Code == ErrNotFound.Code
}

func (e *Error) IsRetryable() bool {
	return !e.IsFatal()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	err.class = classRetryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	err.class = classFatal
	return &err
}

func codeOf(err error) (string, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

func hasCode(err error, sentinel *Error) bool {
	code, ok := codeOf(err)
	return ok && code == sentinel.Code
}

func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }
func IsValidation(err error) bool { return hasCode(err, ErrValidation) }
func IsConflict(err error) bool { return hasCode(err, ErrConflict) }
func IsMalformed(err error) bool { return hasCode(err, ErrMalformedPayload) }
func IsPreconditionFailed(err error) bool { return hasCode(err, ErrPreconditionFailed) }

// IsPermanent reports whether redelivering the message that produced err can
// never succeed. Such messages are acknowledged and dropped.
func IsPermanent(err error) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case ErrMalformedPayload.Code, ErrValidation.Code, ErrConflict.Code:
		return true
	}
	return appErr.IsFatal()
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err as the JSON body of an API error. Errors
// without a code are reported as internal without leaking their text.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}
	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}
	return response
}

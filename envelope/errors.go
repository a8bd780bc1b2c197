// Package envelope assembles the canonical response shape shared by every
// transport: an ordered JSON object with a fixed key sequence, a typed error
// taxonomy, and the response-mode transforms (debug, domains, array,
// streaming, markdown) that rewrite an assembled envelope.
package envelope

import (
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeMethodNotFound     Code = "METHOD_NOT_FOUND"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeConflict           Code = "CONFLICT"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodePaymentRequired    Code = "PAYMENT_REQUIRED"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeInvalidJSON        Code = "INVALID_JSON"
	CodeInvalidRPCRequest  Code = "INVALID_RPC_REQUEST"
	CodeFunctionNotFound   Code = "FUNCTION_NOT_FOUND"
	CodeFunctionError      Code = "FUNCTION_ERROR"
	CodeProxyError         Code = "PROXY_ERROR"
	CodeUpstreamInvalidJSON Code = "UPSTREAM_INVALID_JSON"
	CodePathNotAllowed     Code = "PATH_NOT_ALLOWED"
	CodeInvalidPath        Code = "INVALID_PATH"
)

// statusByCode maps every code to its default HTTP status. PROXY_ERROR
// callers usually override the status to preserve the upstream one.
var statusByCode = map[Code]int{
	CodeBadRequest:          http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeMethodNotFound:      http.StatusMethodNotAllowed,
	CodeValidationError:     http.StatusBadRequest,
	CodeConflict:            http.StatusConflict,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodePaymentRequired:     http.StatusPaymentRequired,
	CodeInternalError:       http.StatusInternalServerError,
	CodeInvalidJSON:         http.StatusBadRequest,
	CodeInvalidRPCRequest:   http.StatusBadRequest,
	CodeFunctionNotFound:    http.StatusNotFound,
	CodeFunctionError:       http.StatusInternalServerError,
	CodeProxyError:          http.StatusBadGateway,
	CodeUpstreamInvalidJSON: http.StatusBadGateway,
	CodePathNotAllowed:      http.StatusForbidden,
	CodeInvalidPath:         http.StatusBadRequest,
}

// FieldError describes one validation failure.
type FieldError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
}

// Error is the typed error carried in the envelope's error slot. It
// implements the error interface so handlers can return it directly.
type Error struct {
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Status     int               `json:"status"`
	Fields     []FieldError      `json:"fields,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	Details    any               `json:"details,omitempty"`
	Links      map[string]string `json:"links,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with the taxonomy's default status for code.
func NewError(code Code, message string) *Error {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Message: message, Status: status}
}

// NewErrorf builds an Error with a formatted message.
func NewErrorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// AsError converts any error into a taxonomy Error. Typed errors pass
// through; everything else becomes INTERNAL_ERROR with a generic message so
// internal details never reach the client.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := err.(*Error); ok {
		return typed
	}
	return NewError(CodeInternalError, "internal error")
}

// WithLinks attaches hypermedia links and returns the error for chaining.
func (e *Error) WithLinks(links map[string]string) *Error {
	if e.Links == nil {
		e.Links = map[string]string{}
	}
	for k, v := range links {
		e.Links[k] = v
	}
	return e
}

// WithDetails attaches an arbitrary detail payload.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithFields attaches validation field errors.
func (e *Error) WithFields(fields []FieldError) *Error {
	e.Fields = fields
	return e
}

// WithStatus overrides the default status, used by proxy wrapping to
// preserve an upstream status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithRetryAfter attaches the retry hint used by rate limiting.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

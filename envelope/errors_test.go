package envelope

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeBadRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeMethodNotFound, http.StatusMethodNotAllowed},
		{CodeValidationError, http.StatusBadRequest},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodePaymentRequired, http.StatusPaymentRequired},
		{CodeInvalidJSON, http.StatusBadRequest},
		{CodeInvalidRPCRequest, http.StatusBadRequest},
		{CodeFunctionNotFound, http.StatusNotFound},
		{CodeFunctionError, http.StatusInternalServerError},
		{CodeProxyError, http.StatusBadGateway},
		{CodeUpstreamInvalidJSON, http.StatusBadGateway},
		{CodePathNotAllowed, http.StatusForbidden},
		{CodeInvalidPath, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			err := NewError(tc.code, "boom")
			assert.Equal(t, tc.status, err.Status)
			assert.Equal(t, tc.code, err.Code)
		})
	}

	t.Run("unknown code defaults to 500", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, NewError(Code("MYSTERY"), "boom").Status)
	})
}

func TestErrorString(t *testing.T) {
	err := NewErrorf(CodeNotFound, "contact %s not found", "contact_2abc9Z")
	assert.Equal(t, "NOT_FOUND: contact contact_2abc9Z not found", err.Error())
}

func TestAsError(t *testing.T) {
	t.Run("typed errors pass through", func(t *testing.T) {
		typed := NewError(CodeForbidden, "not yours")
		assert.Same(t, typed, AsError(typed))
	})

	t.Run("untyped errors become generic internals", func(t *testing.T) {
		wrapped := AsError(errors.New("pq: relation does not exist"))
		require.NotNil(t, wrapped)
		assert.Equal(t, CodeInternalError, wrapped.Code)
		assert.Equal(t, "internal error", wrapped.Message)
		assert.NotContains(t, wrapped.Message, "pq")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsError(nil))
	})
}

func TestErrorChaining(t *testing.T) {
	err := NewError(CodeProxyError, "upstream returned 503").
		WithStatus(http.StatusServiceUnavailable).
		WithRetryAfter(30).
		WithDetails(map[string]string{"upstream": "http://ch.internal:8123"}).
		WithLinks(map[string]string{"home": "http://api.test/"})

	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.Equal(t, 30, err.RetryAfter)
	assert.Equal(t, map[string]string{"upstream": "http://ch.internal:8123"}, err.Details)
	assert.Equal(t, "http://api.test/", err.Links["home"])

	err.WithLinks(map[string]string{"docs": "http://api.test/docs"})
	assert.Len(t, err.Links, 2)
}

func TestErrorWithFields(t *testing.T) {
	err := NewError(CodeValidationError, "validation failed").WithFields([]FieldError{
		{Field: "email", Message: "required", Expected: "string"},
	})

	require.Len(t, err.Fields, 1)
	assert.Equal(t, "email", err.Fields[0].Field)
	assert.Equal(t, "required", err.Fields[0].Message)
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrAlreadyExists, ErrInvalidInput, ErrUnauthorized,
		ErrForbidden, ErrInternal, ErrUnavailable, ErrTooManyReqs,
		ErrTokenExpired, ErrTokenInvalid, ErrTokenReplayed,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("pool exhausted")
	withErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, withErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, withErr.Error(), "something broke")
	assert.Contains(t, withErr.Error(), "pool exhausted")

	plain := &AppError{Code: "NOT_FOUND", Message: "user not found"}
	assert.Equal(t, "NOT_FOUND: user not found", plain.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "nope", Err: ErrNotFound}
	assert.True(t, errors.Is(appErr, ErrNotFound))

	bare := &AppError{Code: "TEST", Message: "test"}
	assert.Nil(t, bare.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"NotFound", NotFound("user", "abc-123"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"AlreadyExists", AlreadyExists("user", "email", "a@b.com"), "ALREADY_EXISTS", http.StatusConflict, ErrAlreadyExists},
		{"InvalidInput", InvalidInput("email is required"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"Unauthorized", Unauthorized("invalid credentials"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"Forbidden", Forbidden("insufficient role"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"TooManyRequests", TooManyRequests("slow down"), "TOO_MANY_REQUESTS", http.StatusTooManyRequests, ErrTooManyReqs},
		{"Unavailable", Unavailable(fmt.Errorf("dial tcp: refused")), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestUnavailable_KeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")
	err := Unavailable(cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.Message, "connection refused", "user-facing message stays generic")
}

func TestInternal(t *testing.T) {
	err := Internal(fmt.Errorf("corrupt state"))
	require.NotNil(t, err)
	assert.Equal(t, "INTERNAL_ERROR", err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Contains(t, err.Error(), "corrupt state")
}

func TestWrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "get user")
	assert.Contains(t, wrapped.Error(), "get user")
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NotFound("user", "1"), http.StatusNotFound},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyExists, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrTokenExpired, http.StatusUnauthorized},
		{ErrTokenInvalid, http.StatusUnauthorized},
		{ErrTokenReplayed, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrTooManyReqs, http.StatusTooManyRequests},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", ErrTokenExpired), http.StatusUnauthorized},
		{fmt.Errorf("who knows"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

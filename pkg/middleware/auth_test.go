package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/carebridge/identity/pkg/errors"
)

func okValidator(claims *Claims) TokenValidator {
	return func(ctx context.Context, token string) (*Claims, error) {
		if token == "good-token" {
			return claims, nil
		}
		if token == "stale-token" {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrTokenInvalid
	}
}

func passthrough() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(UserIDFromContext(r.Context())))
	}
}

func errCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestAuth_ValidToken(t *testing.T) {
	claims := &Claims{UserID: "u-1", Email: "rn@carebridge.test", Role: "provider"}
	handler := Auth(okValidator(claims))(passthrough())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestAuth_MissingHeader(t *testing.T) {
	handler := Auth(okValidator(&Claims{}))(passthrough())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errCodeOf(t, rec))
}

func TestAuth_MalformedHeader(t *testing.T) {
	handler := Auth(okValidator(&Claims{}))(passthrough())

	for _, header := range []string{"good-token", "Basic xyz", "Bearer"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", header)
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuth_ExpiredTokenGetsDistinctCode(t *testing.T) {
	handler := Auth(okValidator(&Claims{}))(passthrough())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", errCodeOf(t, rec))
}

func TestAuth_InvalidToken(t *testing.T) {
	handler := Auth(okValidator(&Claims{}))(passthrough())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer forged")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errCodeOf(t, rec))
}

func TestAuth_ValidatorSeesRequestContext(t *testing.T) {
	type markerKey struct{}

	var seen any
	validate := func(ctx context.Context, token string) (*Claims, error) {
		seen = ctx.Value(markerKey{})
		return &Claims{UserID: "u-1"}, nil
	}
	handler := Auth(validate)(passthrough())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req = req.WithContext(context.WithValue(req.Context(), markerKey{}, "traced"))
	req.Header.Set("Authorization", "Bearer good-token")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "traced", seen)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role   string
		status int
	}{
		{"administrator", http.StatusOK},
		{"case-manager", http.StatusOK},
		{"client", http.StatusForbidden},
		{"", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("role=%q", tt.role), func(t *testing.T) {
			claims := &Claims{UserID: "u-1", Role: tt.role}
			handler := Auth(okValidator(claims))(RequireRole("administrator", "case-manager")(passthrough()))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/restricted", nil)
			req.Header.Set("Authorization", "Bearer good-token")
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireRole_WithoutAuthIsUnauthorized(t *testing.T) {
	handler := RequireRole("administrator")(passthrough())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/restricted", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClaimsFromContext_RoundTrip(t *testing.T) {
	claims := &Claims{UserID: "u-9", Role: "case-manager", Permissions: []string{"cases:manage"}}
	ctx := WithClaims(httptest.NewRequest(http.MethodGet, "/", nil).Context(), claims)

	got := ClaimsFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "u-9", got.UserID)
	assert.Equal(t, "case-manager", RoleFromContext(ctx))
	assert.Equal(t, "u-9", UserIDFromContext(ctx))
}

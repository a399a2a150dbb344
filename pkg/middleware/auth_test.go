package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/altenburg/erp-identity/pkg/errors"
	"github.com/altenburg/erp-identity/pkg/httputil"
	"github.com/altenburg/erp-identity/pkg/logger"
)

func fakeVerifier(token string) (*Principal, error) {
	switch token {
	case "good":
		return &Principal{UserID: "u-1", Username: "alice", Roles: []string{"ROLE_USER"}}, nil
	case "expired":
		return nil, apperrors.ErrTokenExpired
	default:
		return nil, errors.New("signature is invalid")
	}
}

func runAuth(t *testing.T, header string) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()
	var got *Principal
	h := Authenticate(fakeVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		assert.Equal(t, "u-1", logger.UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestAuthenticate_ValidToken(t *testing.T) {
	rec, p := runAuth(t, "Bearer good")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Username)
}

func TestAuthenticate_SchemeIsCaseInsensitive(t *testing.T) {
	rec, _ := runAuth(t, "bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	rec, p := runAuth(t, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, p)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestAuthenticate_WrongScheme(t *testing.T) {
	rec, _ := runAuth(t, "Basic YWxpY2U6cHc=")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	rec, _ := runAuth(t, "Bearer expired")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, rec))
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	rec, _ := runAuth(t, "Bearer forged")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestPrincipal_HasRole(t *testing.T) {
	p := &Principal{Roles: []string{"ROLE_USER", "ROLE_MANAGER"}}

	assert.True(t, p.HasRole("ROLE_ADMIN", "ROLE_MANAGER"))
	assert.False(t, p.HasRole("ROLE_ADMIN"))
	assert.False(t, p.HasRole())
}

func TestPrincipalFromContext_Missing(t *testing.T) {
	_, ok := PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}

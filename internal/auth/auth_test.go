package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testManager(t *testing.T) *AuthManager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("wheel"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthManager(Config{
		Enabled:       true,
		JWTSecret:     "s3cret",
		JWTExpiration: 5,
		APIKeys:       []string{"key-1"},
		AllowedUsers: []User{
			{Username: "op", PasswordHash: string(hash), Role: RoleOperator},
			{Username: "view", PasswordHash: string(hash), Role: RoleViewer},
		},
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func serve(h http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodPost, "/sessions/stop", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddleware(t *testing.T) {
	am := testManager(t)
	h := am.Middleware(am.RequireOperator(okHandler()))

	require.Equal(t, http.StatusUnauthorized, serve(h, "", ""))
	require.Equal(t, http.StatusNoContent, serve(h, "X-API-Key", "key-1"))
	require.Equal(t, http.StatusUnauthorized, serve(h, "X-API-Key", "nope"))
	require.Equal(t, http.StatusUnauthorized, serve(h, "Authorization", "Token abc"))

	opToken, err := am.GenerateJWT("op", RoleOperator)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, serve(h, "Authorization", "Bearer "+opToken))

	viewToken, err := am.GenerateJWT("view", RoleViewer)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, serve(h, "Authorization", "Bearer "+viewToken))
}

func TestMiddlewareDisabled(t *testing.T) {
	am := NewAuthManager(Config{})
	require.Equal(t, http.StatusNoContent, serve(am.Middleware(okHandler()), "", ""))
}

func TestAuthenticateUser(t *testing.T) {
	am := testManager(t)

	role, err := am.AuthenticateUser("op", "wheel")
	require.NoError(t, err)
	require.Equal(t, RoleOperator, role)

	_, err = am.AuthenticateUser("op", "bad")
	require.ErrorIs(t, err, ErrInvalidPassword)

	_, err = am.AuthenticateUser("ghost", "wheel")
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestHandleToken(t *testing.T) {
	am := testManager(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"username":"op","password":"wheel"}`))
	rec := httptest.NewRecorder()
	am.HandleToken(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"role":"operator"`)

	req = httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"username":"op","password":"x"}`))
	rec = httptest.NewRecorder()
	am.HandleToken(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateJWTRejectsForeignSecret(t *testing.T) {
	am := testManager(t)
	other := NewAuthManager(Config{JWTSecret: "different", JWTExpiration: 5})
	token, err := other.GenerateJWT("op", RoleOperator)
	require.NoError(t, err)

	_, err = am.ValidateJWT(token)
	require.Error(t, err)
}

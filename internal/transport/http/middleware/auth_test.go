package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appraisal/internal/domain/auth"
)

func TestAuthMiddlewareSetsUser(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "u1", RoleName: auth.RoleHR}, time.Hour)
	require.NoError(t, err)

	var seen auth.UserContext
	handler := Auth(secret)(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, auth.UserContext{UserID: "u1", RoleName: auth.RoleHR}, seen)
}

func TestAuthMiddlewareRejectsMissingOrForeignToken(t *testing.T) {
	token, err := auth.GenerateToken("other-secret", auth.Claims{UserID: "u1", RoleName: auth.RoleHR}, time.Hour)
	require.NoError(t, err)

	handler := Auth("secret")(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})))

	for _, header := range []string{"", "Bearer " + token, "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestRequirePermission(t *testing.T) {
	handler := RequirePermission(auth.PermPeriodsManage, auth.StaticPermissions{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]int{
		auth.RoleHR:       http.StatusNoContent,
		auth.RoleEmployee: http.StatusForbidden,
	}
	for role, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUser(req.Context(), auth.UserContext{UserID: "u", RoleName: role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestRequestIDAndRecoverer(t *testing.T) {
	handler := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"requestId":"req-42"`)
}

func TestBodyLimitRejectsDeclaredOversize(t *testing.T) {
	handler := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.ContentLength = 64
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClaimsDirectoryPrefersCaller(t *testing.T) {
	dir := ClaimsDirectory{Fallback: auth.StaticDirectory{"u2": auth.RoleDirector}}
	ctx := WithUser(context.Background(), auth.UserContext{UserID: "u1", RoleName: auth.RoleManager})

	role, err := dir.RoleOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleManager, role)

	role, err = dir.RoleOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleDirector, role)

	_, err = ClaimsDirectory{}.RoleOf(ctx, "u3")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

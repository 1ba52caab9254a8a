package audithandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appraisal/internal/domain/audit"
	"appraisal/internal/domain/auth"
	"appraisal/internal/transport/http/middleware"
)

func router(svc *audit.Service, role string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), auth.UserContext{UserID: "u1", RoleName: role})))
		})
	})
	NewHandler(svc, auth.StaticPermissions{}).RegisterRoutes(r)
	return r
}

func TestListEventsFiltersByEntity(t *testing.T) {
	svc := audit.New(audit.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, svc.Record(ctx, "hr", "appraisal.submission.approve", "submission", "s1", "r1", "127.0.0.1", nil, map[string]string{"status": "PENDING"}))
	require.NoError(t, svc.Record(ctx, "hr", "appraisal.submission.approve", "submission", "s2", "r2", "127.0.0.1", nil, nil))

	rec := httptest.NewRecorder()
	router(svc, auth.RoleHR).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events?entityId=s1&includeDetails=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))

	var body struct {
		Data []audit.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "s1", body.Data[0].EntityID)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(body.Data[0].After))
}

func TestListEventsNeedsAuditPermission(t *testing.T) {
	rec := httptest.NewRecorder()
	router(audit.New(audit.NewMemoryStore()), auth.RoleEmployee).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

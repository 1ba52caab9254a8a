package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appraisal/internal/domain/appraisal"
	"appraisal/internal/domain/auth"
	"appraisal/internal/domain/scoring"
	"appraisal/internal/platform/config"
)

const secret = "server-test-secret"

func testConfig() config.Config {
	return config.Config{
		Addr:                ":0",
		Environment:         "test",
		StoreDriver:         config.StoreDriverMemory,
		JWTSecret:           secret,
		MaxBodyBytes:        1 << 20,
		RateLimitPerMinute:  1000,
		NotifyQueueSize:     16,
		PeriodAutoLockGrace: time.Hour,
		MetricsEnabled:      true,
	}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(secret, auth.Claims{UserID: userID, RoleName: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func send(t *testing.T, h http.Handler, method, path, tok string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	app, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	t.Cleanup(cancel)
	return app
}

func TestHealthAndMetrics(t *testing.T) {
	app := newApp(t, testConfig())

	rec := send(t, app.Router, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = send(t, app.Router, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(t, app.Router, http.MethodGet, "/metrics", token(t, "hr", auth.RoleHR), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(t, app.Router, http.MethodGet, "/metrics", token(t, "root", auth.RoleSystemAdmin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "requestsTotal")
}

func TestIdempotentPeriodCreate(t *testing.T) {
	app := newApp(t, testConfig())
	hr := token(t, "hr", auth.RoleHR)
	body := []byte(`{"name":"2026 H1","startsOn":"2026-01-01","endsOn":"2026-06-30"}`)
	headers := map[string]string{"Idempotency-Key": "create-h1"}

	first := send(t, app.Router, http.MethodPost, "/api/v1/periods", hr, body, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := send(t, app.Router, http.MethodPost, "/api/v1/periods", hr, body, headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	third := send(t, app.Router, http.MethodPost, "/api/v1/periods", hr, []byte(`{"name":"other","startsOn":"2026-01-01","endsOn":"2026-06-30"}`), headers)
	assert.Equal(t, http.StatusConflict, third.Code)
	assert.Contains(t, third.Body.String(), "idempotency_conflict")
}

func TestSubmitNotifiesSubmitter(t *testing.T) {
	app := newApp(t, testConfig())
	startCtx, cancelStart := context.WithCancel(context.Background())
	t.Cleanup(cancelStart)
	app.Start(startCtx)
	ctx := context.Background()

	period, err := app.Service.CreatePeriod(ctx, "2026 H1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	def, err := app.Service.CreateKPIDefinition(ctx, appraisal.KPIDefinition{
		Code:    "ONTIME",
		Name:    "On-time delivery",
		Formula: scoring.Formula{Type: scoring.FormulaBinary, Cap: decimal.NewFromInt(100), Floor: decimal.Zero},
	})
	require.NoError(t, err)
	assignment, _, err := app.Service.AttachAssignment(ctx, appraisal.Assignment{
		PeriodID:        period.ID,
		KPIDefinitionID: def.ID,
		Scope:           appraisal.Scope{EmployeeID: "E1"},
		Target:          decimal.NewFromInt(1),
		Weight:          decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	_, err = app.Service.ActivatePeriod(ctx, period.ID, "hr")
	require.NoError(t, err)
	created, err := app.Service.CreateSubmission(ctx, period.ID, appraisal.Scope{EmployeeID: "E1"}, "", "emp")
	require.NoError(t, err)
	one := decimal.NewFromInt(1)
	_, err = app.Service.BulkEnterData(ctx, created.Submission.ID, []appraisal.EntryInput{{AssignmentID: assignment.ID, Actual: &one}}, "emp", 0)
	require.NoError(t, err)

	emp := token(t, "emp", auth.RoleEmployee)
	rec := send(t, app.Router, http.MethodPost, "/api/v1/submissions/"+created.Submission.ID+"/submit", emp, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := send(t, app.Router, http.MethodGet, "/api/v1/notifications", emp, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var body struct {
			Data []struct {
				Type string `json:"type"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			return false
		}
		return len(body.Data) == 1 && body.Data[0].Type == "submission_submitted"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDepartmentPipeline(t *testing.T) {
	resolver, err := departmentPipeline(nil)
	require.NoError(t, err)
	assert.Nil(t, resolver)

	_, err = departmentPipeline([]string{"HR_CONFIRM", "SELF_EVAL"})
	assert.ErrorIs(t, err, appraisal.ErrInvalidPipeline)

	resolver, err = departmentPipeline([]string{"MANAGER_REVIEW", "HR_CONFIRM"})
	require.NoError(t, err)
	pipeline, err := resolver.PipelineFor(context.Background(), "p1", appraisal.Scope{DepartmentID: "D1"})
	require.NoError(t, err)
	assert.Equal(t, appraisal.Pipeline{appraisal.StageManagerReview, appraisal.StageHRConfirm}, pipeline)

	pipeline, err = resolver.PipelineFor(context.Background(), "p1", appraisal.Scope{EmployeeID: "E1"})
	require.NoError(t, err)
	assert.Empty(t, pipeline)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "sqlite"
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err := New(ctx, cfg, nil)
	assert.Error(t, err)
}

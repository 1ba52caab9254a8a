package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appraisal/internal/domain/auth"
	"appraisal/internal/transport/http/api"
)

func TestRequestHashDeterministic(t *testing.T) {
	assert.Equal(t, RequestHash([]byte("payload")), RequestHash([]byte("payload")))
	assert.NotEqual(t, RequestHash([]byte("payload")), RequestHash([]byte("other")))
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Idempotency(NewMemoryIdempotencyStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		api.Created(w, map[string]int{"call": calls}, "")
	}))

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/s1/approve", strings.NewReader(body))
		req = req.WithContext(WithUser(req.Context(), auth.UserContext{UserID: "mgr-1"}))
		req.Header.Set(IdempotencyKeyHeader, "retry-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send(`{"revision":3}`)
	require.Equal(t, http.StatusCreated, first.Code)

	replay := send(`{"revision":3}`)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, calls)

	conflict := send(`{"revision":4}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Contains(t, conflict.Body.String(), "idempotency_conflict")
	assert.Equal(t, 1, calls)
}

func TestIdempotencyIgnoresAnonymousAndServerErrors(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		api.Fail(w, http.StatusInternalServerError, "boom", "boom", "")
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/periods", strings.NewReader(`{}`))
		req = req.WithContext(WithUser(req.Context(), auth.UserContext{UserID: "hr-1"}))
		req.Header.Set(IdempotencyKeyHeader, "k")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)

	anon := httptest.NewRequest(http.MethodPost, "/api/v1/periods", strings.NewReader(`{}`))
	anon.Header.Set(IdempotencyKeyHeader, "k")
	handler.ServeHTTP(httptest.NewRecorder(), anon)
	assert.Equal(t, 3, calls)
}

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

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimitUsesUserKeyBeforeIPFallback(t *testing.T) {
	limited := RateLimit(1)(okHandler())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	userCtx := WithUser(ctx, auth.UserContext{UserID: "user-1"})

	first := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/s1/approve", nil).WithContext(userCtx)
	first.RemoteAddr = "198.51.100.11:2222"
	firstRec := httptest.NewRecorder()
	limited.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusNoContent, firstRec.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/s1/approve", nil).WithContext(userCtx)
	second.RemoteAddr = "198.51.100.12:3333"
	secondRec := httptest.NewRecorder()
	limited.ServeHTTP(secondRec, second)
	assert.Equal(t, http.StatusTooManyRequests, secondRec.Code)
	assert.NotEmpty(t, secondRec.Header().Get("Retry-After"))
	assert.Equal(t, "0", secondRec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitFallsBackToIP(t *testing.T) {
	limited := RateLimit(1)(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/api/v1/periods", nil)
	first.Header.Set("X-Forwarded-For", "203.0.113.10, 10.0.0.1")
	firstRec := httptest.NewRecorder()
	limited.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusNoContent, firstRec.Code)

	other := httptest.NewRequest(http.MethodPost, "/api/v1/periods", nil)
	other.RemoteAddr = "203.0.113.11:5555"
	otherRec := httptest.NewRecorder()
	limited.ServeHTTP(otherRec, other)
	assert.Equal(t, http.StatusNoContent, otherRec.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/periods", nil)
	second.Header.Set("X-Forwarded-For", "203.0.113.10")
	secondRec := httptest.NewRecorder()
	limited.ServeHTTP(secondRec, second)
	assert.Equal(t, http.StatusTooManyRequests, secondRec.Code)
}

func TestRateLimitRefills(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limited := RateLimit(60, func(rl *rateLimiter) {
		rl.burst = 1
		rl.now = func() time.Time { return now }
	})(okHandler())

	send := func() int {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/submissions/s1/entries", nil)
		req.RemoteAddr = "192.0.2.20:1111"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, send())
}

func TestMutationsOnlySkipsReads(t *testing.T) {
	limited := RateLimit(1, MutationsOnly())(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/s1", nil)
		req.RemoteAddr = "198.51.100.40:8888"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code, "read %d", i+1)
	}

	codes := []int{}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/s1/submit", nil)
		req.RemoteAddr = "198.51.100.40:8888"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"appraisal/internal/requestctx"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type RequestRecorder interface {
	Record(status int, duration time.Duration)
}

// Logger attaches a request-scoped logger to the context and writes one
// access line per request. Must run after RequestID.
func Logger(base *zap.Logger, recorder RequestRecorder) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := GetRequestID(r.Context())
			logger := base.With(zap.String("requestId", reqID))
			ctx := requestctx.WithLogger(r.Context(), logger)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			if recorder != nil {
				recorder.Record(rec.status, duration)
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("durationMs", duration.Milliseconds()),
			)
		})
	}
}

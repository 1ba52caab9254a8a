package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"appraisal/internal/requestctx"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/shared"
)

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*rateLimiter)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	mu       sync.Mutex
	perMin   int
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	keyFn    RateLimitKeyFunc
	filter   func(r *http.Request) bool
	limiters map[string]*limiterEntry
	now      func() time.Time
}

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(rl *rateLimiter) {
		if fn != nil {
			rl.keyFn = fn
		}
	}
}

// MutationsOnly limits POST, PUT, PATCH and DELETE and lets reads through.
func MutationsOnly() RateLimitOption {
	return func(rl *rateLimiter) {
		rl.filter = func(r *http.Request) bool { return isMutation(r.Method) }
	}
}

// RateLimit allows perMinute requests per key with a burst of the same size,
// refilled continuously. Keys default to the authenticated user, then the
// client IP.
func RateLimit(perMinute int, opts ...RateLimitOption) func(http.Handler) http.Handler {
	rl := newRateLimiter(perMinute)
	for _, opt := range opts {
		opt(rl)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMin:   perMinute,
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
		keyFn:    actorOrIPKey,
		limiters: map[string]*limiterEntry{},
		now:      time.Now,
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) > 1024 {
			rl.evictIdle(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (rl *rateLimiter) evictIdle(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *rateLimiter) enforce(w http.ResponseWriter, r *http.Request) bool {
	if rl.perMin <= 0 || (rl.filter != nil && !rl.filter(r)) {
		return true
	}

	key := rl.keyFn(r)
	if key == "" {
		key = clientIPKey(r)
	}
	limiter := rl.get(key)
	now := rl.now()
	allowed := limiter.AllowN(now, 1)
	remaining := int(math.Max(0, math.Floor(limiter.TokensAt(now))))

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perMin))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if allowed {
		return true
	}

	retryAfter := int(math.Ceil(60 / float64(rl.perMin)))
	w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
	requestctx.Logger(r.Context()).Warn("rate limit exceeded",
		zap.String("key", key),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.Int("perMinute", rl.perMin),
	)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
	return false
}

func actorOrIPKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	return "ip:" + shared.ClientIP(r)
}

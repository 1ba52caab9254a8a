package middleware

import (
	"context"
	"net/http"
	"strings"

	"appraisal/internal/domain/auth"
	"appraisal/internal/transport/http/api"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

// Auth puts the bearer token's user into the context. Requests without a
// valid token pass through anonymously; RequireAuth rejects them.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(secret, parts[1])
			if err != nil || claims.UserID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), auth.UserContext{
				UserID:   claims.UserID,
				RoleName: claims.RoleName,
			})))
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); !ok {
			api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithUser(ctx context.Context, user auth.UserContext) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

func GetUser(ctx context.Context) (auth.UserContext, bool) {
	user, ok := ctx.Value(ctxKeyUser).(auth.UserContext)
	return user, ok
}

type RoleDirectory interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

// ClaimsDirectory answers role lookups for the caller from their token and
// sends lookups for anyone else to Fallback.
type ClaimsDirectory struct {
	Fallback RoleDirectory
}

func (d ClaimsDirectory) RoleOf(ctx context.Context, userID string) (string, error) {
	if user, ok := GetUser(ctx); ok && user.UserID == userID && user.RoleName != "" {
		return user.RoleName, nil
	}
	if d.Fallback == nil {
		return "", auth.ErrUserNotFound
	}
	return d.Fallback.RoleOf(ctx, userID)
}

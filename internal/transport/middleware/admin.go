package middleware

import (
	"context"
	"net/http"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
	"github.com/heartmarshall/dictsync-backend/pkg/ctxutil"
)

// RequireAdmin returns domain.ErrUnauthorized for anonymous callers and
// domain.ErrForbidden for callers without the admin role.
func RequireAdmin(ctx context.Context) error {
	if _, ok := ctxutil.CallerFromCtx(ctx); !ok {
		return domain.ErrUnauthorized
	}
	if !ctxutil.IsAdminCtx(ctx) {
		return domain.ErrForbidden
	}
	return nil
}

// AdminOnly rejects requests that fail RequireAdmin. It must run after Auth.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch RequireAdmin(r.Context()) {
		case nil:
			next.ServeHTTP(w, r)
		case domain.ErrUnauthorized:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		default:
			http.Error(w, "admin access required", http.StatusForbidden)
		}
	})
}

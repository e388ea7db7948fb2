package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/auth"
	"github.com/atiendo/backend/internal/models"
)

const (
	ctxOperatorIDKey   contextKey = "operator_id"
	ctxOperatorRoleKey contextKey = "operator_role"
)

// OperatorAuth validates the Bearer token as an operator JWT and sets
// the operator id and role into request context.
func OperatorAuth(svc auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			id, role, err := svc.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxOperatorIDKey, id)
			ctx = context.WithValue(ctx, ctxOperatorRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose operator role is not admin.
// Must run after OperatorAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if OperatorRoleFromCtx(r.Context()) != models.RoleAdmin {
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OperatorIDFromCtx returns the authenticated operator id, or uuid.Nil.
func OperatorIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxOperatorIDKey).(uuid.UUID)
	return id
}

// OperatorRoleFromCtx returns the authenticated operator role, or "".
func OperatorRoleFromCtx(ctx context.Context) string {
	role, _ := ctx.Value(ctxOperatorRoleKey).(string)
	return role
}

// WithOperator returns a context carrying the given operator identity.
func WithOperator(ctx context.Context, id uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorIDKey, id)
	return context.WithValue(ctx, ctxOperatorRoleKey, role)
}

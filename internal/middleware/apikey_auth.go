package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/atiendo/backend/internal/models"
)

type contextKey string

const ctxAccountKey contextKey = "account"

// APIKeyLookup resolves a SHA-256 key hash to the owning account.
type APIKeyLookup interface {
	FindAccountByKeyHash(ctx context.Context, keyHash string) (*models.Account, error)
}

// APIKeyAuth authenticates requests by hashing the Bearer token (SHA-256)
// and looking it up in api_keys. On success it sets the owning account
// into request context.
func APIKeyAuth(keys APIKeyLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			acc, err := keys.FindAccountByKeyHash(r.Context(), hashKey(raw))
			if err != nil || acc == nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxAccountKey, acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey returns the hex SHA-256 of a raw API key. Exported so key
// minting stores the same digest the middleware looks up.
func HashKey(raw string) string {
	return hashKey(raw)
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
